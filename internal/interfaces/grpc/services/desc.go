package services

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "molcore.v1.MoleculeService"

// Method names. Every method takes and returns a google.protobuf.Struct
// shaped like the matching HTTP JSON body.
const (
	MethodParse           = "Parse"
	MethodCanonical       = "Canonical"
	MethodAddHydrogens    = "AddHydrogens"
	MethodRemoveHydrogens = "RemoveHydrogens"
	MethodEmbed           = "Embed"
	MethodMolBlock        = "MolBlock"
	MethodJSON            = "JSON"
	MethodFingerprint     = "Fingerprint"
	MethodDescriptors     = "Descriptors"
	MethodNeutralize      = "Neutralize"
	MethodSimilarity      = "Similarity"
	MethodSearchSimilar   = "SearchSimilar"
	MethodProcess         = "Process"
	MethodGetRecord       = "GetRecord"
	MethodVersion         = "Version"
)

// MoleculeServiceServer is the server API for molcore.v1.MoleculeService.
type MoleculeServiceServer interface {
	Parse(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Canonical(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddHydrogens(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveHydrogens(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Embed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MolBlock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	JSON(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Fingerprint(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Descriptors(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Neutralize(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Similarity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SearchSimilar(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Process(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRecord(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Version(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(MoleculeServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(MoleculeServiceServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// MoleculeServiceDesc describes molcore.v1.MoleculeService for
// grpc.Server.RegisterService.
var MoleculeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MoleculeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodParse, MoleculeServiceServer.Parse),
		unaryMethod(MethodCanonical, MoleculeServiceServer.Canonical),
		unaryMethod(MethodAddHydrogens, MoleculeServiceServer.AddHydrogens),
		unaryMethod(MethodRemoveHydrogens, MoleculeServiceServer.RemoveHydrogens),
		unaryMethod(MethodEmbed, MoleculeServiceServer.Embed),
		unaryMethod(MethodMolBlock, MoleculeServiceServer.MolBlock),
		unaryMethod(MethodJSON, MoleculeServiceServer.JSON),
		unaryMethod(MethodFingerprint, MoleculeServiceServer.Fingerprint),
		unaryMethod(MethodDescriptors, MoleculeServiceServer.Descriptors),
		unaryMethod(MethodNeutralize, MoleculeServiceServer.Neutralize),
		unaryMethod(MethodSimilarity, MoleculeServiceServer.Similarity),
		unaryMethod(MethodSearchSimilar, MoleculeServiceServer.SearchSimilar),
		unaryMethod(MethodProcess, MoleculeServiceServer.Process),
		unaryMethod(MethodGetRecord, MoleculeServiceServer.GetRecord),
		unaryMethod(MethodVersion, MoleculeServiceServer.Version),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "molcore/v1/molecule.proto",
}

// MoleculeServiceClient calls molcore.v1.MoleculeService.
type MoleculeServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewMoleculeServiceClient(cc grpc.ClientConnInterface) *MoleculeServiceClient {
	return &MoleculeServiceClient{cc: cc}
}

// Call invokes method with in and returns the response struct.
func (c *MoleculeServiceClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
