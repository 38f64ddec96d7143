// Package models defines the plaintext payloads the CLI seals into a secret.
// The server only ever sees them encrypted.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SecretType classifies a secret kind.
type SecretType string

const (
	SecretTypeNote       SecretType = "note"
	SecretTypeBinaryFile SecretType = "binaryfile"
	SecretTypeLogin      SecretType = "login"
	SecretTypeCreditCard SecretType = "credit_card"
)

var ErrIncorrectMetadata = errors.New("metadata item must be name=value")

// Metadata is a simple key/value pair shown in the preview.
type Metadata struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func MetadataFromString(s []string) ([]Metadata, error) {
	data := make([]Metadata, len(s))
	for n, item := range s {
		parts := strings.Split(item, "=")
		if len(parts) != 2 {
			return nil, ErrIncorrectMetadata
		}
		data[n] = Metadata{Name: parts[0], Value: parts[1]}
	}
	return data, nil
}

// Preview is the part of a secret readable with the preview key alone.
type Preview struct {
	Type     SecretType `json:"type"`
	Title    string     `json:"title"`
	Metadata []Metadata `json:"metadata,omitempty"`
}

// Credentials is the part of a secret readable only with the credentials key.
type Credentials struct {
	Type    SecretType      `json:"type"`
	Details json.RawMessage `json:"details"`
}

type TypedSecret interface {
	GetType() SecretType
}

// NewCredentials encodes v as the credentials payload of its type.
func NewCredentials(v TypedSecret) (Credentials, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Type: v.GetType(), Details: b}, nil
}

// Unwrap decodes Details into the concrete type. Unknown types come back as
// a generic map.
func (c Credentials) Unwrap() (any, error) {
	switch c.Type {
	case SecretTypeLogin:
		var v Login
		return v, json.Unmarshal(c.Details, &v)
	case SecretTypeNote:
		var v Note
		return v, json.Unmarshal(c.Details, &v)
	case SecretTypeCreditCard:
		var v CreditCard
		return v, json.Unmarshal(c.Details, &v)
	case SecretTypeBinaryFile:
		var v BinaryFile
		return v, json.Unmarshal(c.Details, &v)
	default:
		var m map[string]any
		if err := json.Unmarshal(c.Details, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
}

// Login stores site credentials.
type Login struct {
	Username string `json:"username"`
	Password string `json:"password"`
	URL      string `json:"url"`
}

func (x Login) GetType() SecretType { return SecretTypeLogin }

// Note stores free-form text.
type Note struct {
	Text string `json:"text"`
}

func (x Note) GetType() SecretType { return SecretTypeNote }

// CreditCard stores payment card details.
type CreditCard struct {
	Number     string `json:"number"`
	Expiration string `json:"expiration"`
	CVV        string `json:"cvv"`
	Holder     string `json:"holder"`
}

func (x CreditCard) GetType() SecretType { return SecretTypeCreditCard }

// BinaryFile describes the encrypted attachment stored with the secret.
type BinaryFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func (f BinaryFile) GetType() SecretType { return SecretTypeBinaryFile }

// Render formats a decoded credentials value for the terminal.
func Render(v any) string {
	switch x := v.(type) {
	case Login:
		return fmt.Sprintf("username: %s\npassword: %s\nurl: %s", x.Username, x.Password, x.URL)
	case Note:
		return x.Text
	case CreditCard:
		return fmt.Sprintf("number: %s\nexpiration: %s\ncvv: %s\nholder: %s", x.Number, x.Expiration, x.CVV, x.Holder)
	case BinaryFile:
		return fmt.Sprintf("file: %s (%d bytes)", x.Name, x.Size)
	default:
		b, _ := json.MarshalIndent(v, "", "  ")
		return string(b)
	}
}
