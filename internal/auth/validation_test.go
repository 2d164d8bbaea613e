package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psptrack/psptrack/internal/auth"
)

func TestRegisterRequest_Validate(t *testing.T) {
	tests := []struct {
		name      string
		username  string
		email     string
		password  string
		wantField string
	}{
		{name: "valid", username: "bob-42", email: "bob@example.org", password: "Passw0rd!"},
		{name: "valid with space symbol", username: "bob", email: "b@x.io", password: "Pass w0rd"},
		{name: "username too short", username: "ab", email: "bob@example.org", password: "Passw0rd!", wantField: "username"},
		{name: "username too long", username: "abcdefghijklmnop", email: "bob@example.org", password: "Passw0rd!", wantField: "username"},
		{name: "username bad char", username: "bob.smith", email: "bob@example.org", password: "Passw0rd!", wantField: "username"},
		{name: "email missing at", username: "bob", email: "bob.example.org", password: "Passw0rd!", wantField: "email"},
		{name: "email missing dot", username: "bob", email: "bob@example", password: "Passw0rd!", wantField: "email"},
		{name: "password too short", username: "bob", email: "bob@example.org", password: "Pa0rd!", wantField: "password"},
		{name: "password no upper", username: "bob", email: "bob@example.org", password: "passw0rd!", wantField: "password"},
		{name: "password no lower", username: "bob", email: "bob@example.org", password: "PASSW0RD!", wantField: "password"},
		{name: "password no digit", username: "bob", email: "bob@example.org", password: "Password!", wantField: "password"},
		{name: "password no symbol", username: "bob", email: "bob@example.org", password: "Passw0rdX", wantField: "password"},
		{name: "first failure wins", username: "", email: "", password: "", wantField: "username"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := auth.RegisterRequest{Username: tt.username, Email: tt.email, Password: tt.password}
			verr := req.Validate()

			if tt.wantField == "" {
				assert.Nil(t, verr)
				return
			}
			require.NotNil(t, verr)
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}
}
