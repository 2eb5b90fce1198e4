package repositories

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	domain "github.com/turtacn/molcore/internal/domain/molecule"
	driver "github.com/turtacn/molcore/internal/infrastructure/database/neo4j"
	"github.com/turtacn/molcore/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molcore/pkg/errors"
)

const (
	// Replacing a graph drops the old atoms first so a redelivered record
	// never accumulates duplicates.
	cypherResetMolecule = `
		MERGE (m:Molecule {record_id: $recordId})
		SET m.name = $name, m.formula = $formula, m.num_atoms = $numAtoms,
		    m.num_bonds = $numBonds, m.updated_at = datetime()
		WITH m
		OPTIONAL MATCH (m)-[:HAS_ATOM]->(old:Atom)
		DETACH DELETE old`

	cypherCreateAtoms = `
		MATCH (m:Molecule {record_id: $recordId})
		UNWIND $atoms AS a
		CREATE (m)-[:HAS_ATOM]->(:Atom {
			record_id: $recordId, idx: a.idx, element: a.element, symbol: a.symbol,
			charge: a.charge, isotope: a.isotope, aromatic: a.aromatic,
			x: a.x, y: a.y, z: a.z})`

	cypherCreateBonds = `
		UNWIND $bonds AS b
		MATCH (a1:Atom {record_id: $recordId, idx: b.begin})
		MATCH (a2:Atom {record_id: $recordId, idx: b.end})
		CREATE (a1)-[:BOND {order: b.order}]->(a2)`

	cypherDeleteMolecule = `
		MATCH (m:Molecule {record_id: $recordId})
		OPTIONAL MATCH (m)-[:HAS_ATOM]->(a:Atom)
		DETACH DELETE a, m`

	cypherSummary = `
		MATCH (m:Molecule {record_id: $recordId})
		OPTIONAL MATCH (m)-[:HAS_ATOM]->(a:Atom)
		OPTIONAL MATCH (a)-[b:BOND]->(:Atom)
		RETURN m.formula AS formula, count(DISTINCT a) AS atoms, count(DISTINCT b) AS bonds`
)

// MoleculeGraphRepo mirrors molecule graphs into Neo4j as
// (:Molecule)-[:HAS_ATOM]->(:Atom)-[:BOND]->(:Atom).
type MoleculeGraphRepo struct {
	driver driver.DriverInterface
	log    logging.Logger
}

var _ domain.GraphStore = (*MoleculeGraphRepo)(nil)

func NewMoleculeGraphRepo(d driver.DriverInterface, log logging.Logger) *MoleculeGraphRepo {
	return &MoleculeGraphRepo{driver: d, log: log}
}

func (r *MoleculeGraphRepo) SaveGraph(ctx context.Context, recordID string, mol *domain.Molecule) error {
	if recordID == "" || mol == nil {
		return errors.InvalidParam("record id and molecule are required")
	}
	params := graphParams(recordID, mol)

	_, err := r.driver.ExecuteWrite(ctx, func(tx driver.Transaction) (any, error) {
		for _, q := range []string{cypherResetMolecule, cypherCreateAtoms, cypherCreateBonds} {
			res, err := tx.Run(ctx, q, params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		r.log.Warn("failed to save molecule graph", logging.String("record_id", recordID), logging.Err(err))
		return err
	}
	r.log.Debug("saved molecule graph",
		logging.String("record_id", recordID),
		logging.Int("atoms", mol.NumAtoms()),
		logging.Int("bonds", mol.NumBonds()))
	return nil
}

func (r *MoleculeGraphRepo) DeleteGraph(ctx context.Context, recordID string) error {
	_, err := r.driver.ExecuteWrite(ctx, func(tx driver.Transaction) (any, error) {
		res, err := tx.Run(ctx, cypherDeleteMolecule, map[string]any{"recordId": recordID})
		if err != nil {
			return nil, err
		}
		return res.Consume(ctx)
	})
	return err
}

// Summary returns errors.CodeNotFound when no graph exists for recordID.
func (r *MoleculeGraphRepo) Summary(ctx context.Context, recordID string) (*domain.GraphSummary, error) {
	out, err := r.driver.ExecuteRead(ctx, func(tx driver.Transaction) (any, error) {
		res, err := tx.Run(ctx, cypherSummary, map[string]any{"recordId": recordID})
		if err != nil {
			return nil, err
		}
		return driver.ExtractSingleRecord(ctx, res, func(rec *neo4j.Record) (*domain.GraphSummary, error) {
			formula, _, _ := neo4j.GetRecordValue[string](rec, "formula")
			atoms, _, err := neo4j.GetRecordValue[int64](rec, "atoms")
			if err != nil {
				return nil, err
			}
			bonds, _, err := neo4j.GetRecordValue[int64](rec, "bonds")
			if err != nil {
				return nil, err
			}
			return &domain.GraphSummary{RecordID: recordID, Formula: formula, Atoms: int(atoms), Bonds: int(bonds)}, nil
		})
	})
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NotFound("no graph for record").WithDetail(recordID)
		}
		return nil, err
	}
	return out.(*domain.GraphSummary), nil
}

func graphParams(recordID string, mol *domain.Molecule) map[string]any {
	var positions []domain.Point3
	if c := mol.Conformer(); c != nil {
		positions = c.Positions
	}

	atoms := make([]any, mol.NumAtoms())
	for i, a := range mol.Atoms() {
		var p domain.Point3
		if i < len(positions) {
			p = positions[i]
		}
		atoms[i] = map[string]any{
			"idx":      i,
			"element":  a.Element,
			"symbol":   a.Symbol(),
			"charge":   a.Charge,
			"isotope":  a.Isotope,
			"aromatic": a.Aromatic,
			"x":        p.X,
			"y":        p.Y,
			"z":        p.Z,
		}
	}

	bonds := make([]any, mol.NumBonds())
	for i, b := range mol.Bonds() {
		bonds[i] = map[string]any{
			"begin": b.Begin,
			"end":   b.End,
			"order": b.Order.String(),
		}
	}

	return map[string]any{
		"recordId": recordID,
		"name":     mol.Name,
		"formula":  mol.Formula(),
		"numAtoms": mol.NumAtoms(),
		"numBonds": mol.NumBonds(),
		"atoms":    atoms,
		"bonds":    bonds,
	}
}
