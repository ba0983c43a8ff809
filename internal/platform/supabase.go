package platform

import "fmt"

// ProviderSupabase is the Supabase source provider tag.
const ProviderSupabase = "supabase"

// newSupabaseSource builds a Postgres-backed source from the Supabase
// credential schema: endpoint, apiKey, databaseHost, username, password, port.
// The database name is always "postgres" on Supabase.
func newSupabaseSource(creds Credentials) (Source, error) {
	for _, field := range []string{"endpoint", "apiKey", "databaseHost", "username", "password", "port"} {
		if _, err := creds.require(field); err != nil {
			return nil, err
		}
	}

	dsn := fmt.Sprintf("host=%s port=%s dbname=postgres user=%s password=%s sslmode=require",
		creds["databaseHost"], creds["port"], creds["username"], creds["password"])

	return newPGSource(ProviderSupabase, dsn, "postgres"), nil
}
