package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validPeerCreds() Credentials {
	return Credentials{
		"projectId": "p1",
		"endpoint":  "http://corebase/v1",
		"apiKey":    "secret",
	}
}

func TestNewSource_UnsupportedProvider(t *testing.T) {
	_, err := NewSource("parse", validPeerCreds())
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestNewDestination_UnsupportedProvider(t *testing.T) {
	// Firebase is a source-only provider.
	_, err := NewDestination(ProviderFirebase, Credentials{"serviceAccount": "{}"})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestNewSource_CorebaseMissingCredentials(t *testing.T) {
	creds := validPeerCreds()
	delete(creds, "apiKey")
	_, err := NewSource(ProviderCorebase, creds)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestNewSource_SupabaseMissingCredentials(t *testing.T) {
	_, err := NewSource(ProviderSupabase, Credentials{
		"endpoint": "https://x.supabase.co",
		"apiKey":   "k",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestNewSource_SupabaseValidCredentials(t *testing.T) {
	src, err := NewSource(ProviderSupabase, Credentials{
		"endpoint":     "https://x.supabase.co",
		"apiKey":       "k",
		"databaseHost": "db.x.supabase.co",
		"username":     "postgres",
		"password":     "pw",
		"port":         "5432",
	})
	assert.NoError(t, err)
	assert.Equal(t, ProviderSupabase, src.Name())
}

func TestNewSource_NHostMissingCredentials(t *testing.T) {
	_, err := NewSource(ProviderNHost, Credentials{"subdomain": "app", "region": "eu-central-1"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestNewSource_FirebaseInvalidServiceAccount(t *testing.T) {
	_, err := NewSource(ProviderFirebase, Credentials{"serviceAccount": "not json"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = NewSource(ProviderFirebase, Credentials{"serviceAccount": `{"type":"service_account"}`})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
