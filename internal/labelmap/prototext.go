package labelmap

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// The label map schema is owned by Caffe (caffe.proto). Only the three fields
// of LabelMapItem are declared here; anything else in a file is discarded.
var (
	labelMapDesc protoreflect.MessageDescriptor
	itemField    protoreflect.FieldDescriptor
	nameField    protoreflect.FieldDescriptor
	labelField   protoreflect.FieldDescriptor
	displayField protoreflect.FieldDescriptor
)

func init() {
	fd, err := protodesc.NewFile(labelMapFile(), nil)
	if err != nil {
		panic(err)
	}
	labelMapDesc = fd.Messages().ByName("LabelMap")
	itemDesc := fd.Messages().ByName("LabelMapItem")

	itemField = labelMapDesc.Fields().ByName("item")
	nameField = itemDesc.Fields().ByName("name")
	labelField = itemDesc.Fields().ByName("label")
	displayField = itemDesc.Fields().ByName("display_name")
}

func labelMapFile() *descriptorpb.FileDescriptorProto {
	optional := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum()
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("caffe/labelmap.proto"),
		Package: proto.String("caffe"),
		Syntax:  proto.String("proto2"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("LabelMapItem"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:   proto.String("name"),
						Number: proto.Int32(1),
						Label:  optional,
						Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
					},
					{
						Name:   proto.String("label"),
						Number: proto.Int32(2),
						Label:  optional,
						Type:   descriptorpb.FieldDescriptorProto_TYPE_INT32.Enum(),
					},
					{
						Name:   proto.String("display_name"),
						Number: proto.Int32(3),
						Label:  optional,
						Type:   descriptorpb.FieldDescriptorProto_TYPE_STRING.Enum(),
					},
				},
			},
			{
				Name: proto.String("LabelMap"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:     proto.String("item"),
						Number:   proto.Int32(1),
						Label:    descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
						Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
						TypeName: proto.String(".caffe.LabelMapItem"),
					},
				},
			},
		},
	}
}

// Parse decodes a label map in protobuf text format.
//
// Items without a display_name fall back to their name. An item that sets
// neither has no usable display text and is rejected.
func Parse(data []byte) (*LabelMap, error) {
	msg := dynamicpb.NewMessage(labelMapDesc)
	opts := prototext.UnmarshalOptions{DiscardUnknown: true}
	if err := opts.Unmarshal(data, msg); err != nil {
		return nil, errors.Wrap(err, "failed to parse label map")
	}

	list := msg.Get(itemField).List()
	items := make([]Item, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		entry := list.Get(i).Message()
		if !entry.Has(labelField) {
			return nil, errors.Errorf("item %d has no label", i)
		}
		it := Item{
			Name:        entry.Get(nameField).String(),
			Label:       int(entry.Get(labelField).Int()),
			DisplayName: entry.Get(displayField).String(),
		}
		if !entry.Has(displayField) {
			it.DisplayName = it.Name
		}
		if it.DisplayName == "" {
			return nil, errors.Errorf("item %d (label %d) has no display name", i, it.Label)
		}
		items = append(items, it)
	}
	return New(items)
}
