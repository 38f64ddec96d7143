package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetadataFromString_OK(t *testing.T) {
	in := []string{"a=1", "b=two", "name = value"}
	md, err := MetadataFromString(in)
	require.NoError(t, err)
	require.Len(t, md, 3)
	require.Equal(t, "a", md[0].Name)
	require.Equal(t, "1", md[0].Value)
	require.Equal(t, "b", md[1].Name)
	require.Equal(t, "two", md[1].Value)
	require.Equal(t, "name ", md[2].Name)
	require.Equal(t, " value", md[2].Value)
}

func TestMetadataFromString_ErrorOnMalformed(t *testing.T) {
	_, err := MetadataFromString([]string{"justname", "x=y", "a=b=c"})
	require.ErrorIs(t, err, ErrIncorrectMetadata)
}

func TestCredentials_RoundTripPerType(t *testing.T) {
	tests := []TypedSecret{
		Login{Username: "u", Password: "p", URL: "https://ex"},
		Note{Text: "hello"},
		CreditCard{Number: "4111", Expiration: "12/25", CVV: "123", Holder: "John"},
		BinaryFile{Name: "key.pem", Size: 1704},
	}
	for _, src := range tests {
		t.Run(string(src.GetType()), func(t *testing.T) {
			c, err := NewCredentials(src)
			require.NoError(t, err)
			require.Equal(t, src.GetType(), c.Type)

			out, err := c.Unwrap()
			require.NoError(t, err)
			require.Equal(t, src, out)
		})
	}
}

func TestUnwrap_UnknownType_ReturnsGenericMap(t *testing.T) {
	c := Credentials{Type: SecretType("unknown"), Details: []byte(`{"a":1}`)}
	out, err := c.Unwrap()
	require.NoError(t, err)
	_, ok := out.(map[string]any)
	require.True(t, ok)
}

func TestUnwrap_CorruptDetails(t *testing.T) {
	c := Credentials{Type: SecretTypeLogin, Details: []byte(`{"username":`)}
	_, err := c.Unwrap()
	require.Error(t, err)
}

func TestRender(t *testing.T) {
	require.Contains(t, Render(Login{Username: "bob", Password: "pw"}), "username: bob")
	require.Equal(t, "hi", Render(Note{Text: "hi"}))
	require.Contains(t, Render(BinaryFile{Name: "a.bin", Size: 3}), "a.bin (3 bytes)")
	require.Contains(t, Render(map[string]any{"k": "v"}), `"k": "v"`)
}
