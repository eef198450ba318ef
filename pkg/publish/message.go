package publish

import (
	"bytes"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type messageKind int

const (
	messageTree    messageKind = iota // a JSON value
	messageEncoded                    // a JSON string whose content is a JSON document
)

// Message is the rawMessage of a publish request: either a JSON tree or a
// string that encodes one. Normalize turns the second form into the first.
type Message struct {
	kind    messageKind
	tree    []byte
	encoded string
}

// TreeMessage wraps an already-parsed JSON document.
func TreeMessage(doc []byte) Message {
	return Message{kind: messageTree, tree: doc}
}

// EncodedMessage wraps a string whose content is a JSON document.
func EncodedMessage(s string) Message {
	return Message{kind: messageEncoded, encoded: s}
}

func (m *Message) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*m = EncodedMessage(s)
		return nil
	}
	*m = TreeMessage(append([]byte(nil), b...))
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	if m.kind == messageEncoded {
		return json.Marshal(m.encoded)
	}
	if len(m.tree) == 0 {
		return []byte("null"), nil
	}
	return m.tree, nil
}

// Encoded reports whether the message still holds the string form.
func (m Message) Encoded() bool {
	return m.kind == messageEncoded
}

// Normalize re-parses the string form into a tree. A string that is not a
// JSON document is a bad request.
func (m *Message) Normalize() error {
	if m.kind != messageEncoded {
		return nil
	}
	doc := bytes.TrimSpace([]byte(m.encoded))
	if len(doc) == 0 {
		return badRequest(errors.New("rawMessage is an empty string"))
	}
	var probe any
	if err := json.Unmarshal(doc, &probe); err != nil {
		return badRequest(fmt.Errorf("rawMessage is not a JSON document: %w", err))
	}
	*m = TreeMessage(doc)
	return nil
}

// Text is the tree serialized back to JSON text; an absent message is null.
func (m Message) Text() string {
	if m.kind == messageEncoded {
		return m.encoded
	}
	if len(m.tree) == 0 {
		return "null"
	}
	return string(m.tree)
}
