package api

import (
	"github.com/matheus3301/chatline/internal/store"
	"google.golang.org/protobuf/types/known/structpb"
)

func messageToMap(m *store.Message) map[string]any {
	return map[string]any{
		"local_id":   m.LocalID,
		"server_id":  m.ServerID,
		"client_id":  m.ClientID,
		"author":     m.Author,
		"body":       m.Body,
		"output":     m.Output,
		"timestamp":  m.Timestamp,
		"is_command": m.IsCommand,
		"reply_to":   m.ReplyTo,
		"status":     string(m.Status),
		"created_at": m.CreatedAt,
	}
}

func messagesToList(msgs []store.Message) []any {
	out := make([]any, 0, len(msgs))
	for i := range msgs {
		out = append(out, messageToMap(&msgs[i]))
	}
	return out
}

func messageFromStruct(s *structpb.Struct) store.Message {
	return store.Message{
		LocalID:   intField(s, "local_id"),
		ServerID:  intField(s, "server_id"),
		ClientID:  stringField(s, "client_id"),
		Author:    stringField(s, "author"),
		Body:      stringField(s, "body"),
		Output:    stringField(s, "output"),
		Timestamp: intField(s, "timestamp"),
		IsCommand: boolField(s, "is_command"),
		ReplyTo:   intField(s, "reply_to"),
		Status:    store.Status(stringField(s, "status")),
		CreatedAt: intField(s, "created_at"),
	}
}

func messagesFromList(l *structpb.ListValue) []store.Message {
	out := make([]store.Message, 0, len(l.GetValues()))
	for _, v := range l.GetValues() {
		out = append(out, messageFromStruct(v.GetStructValue()))
	}
	return out
}

func intField(s *structpb.Struct, key string) int64 {
	return int64(s.GetFields()[key].GetNumberValue())
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func boolField(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}

func structField(s *structpb.Struct, key string) *structpb.Struct {
	return s.GetFields()[key].GetStructValue()
}

func hasField(s *structpb.Struct, key string) bool {
	_, ok := s.GetFields()[key]
	return ok
}
