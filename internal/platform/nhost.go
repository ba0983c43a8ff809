package platform

import "fmt"

// ProviderNHost is the NHost source provider tag.
const ProviderNHost = "nhost"

// newNHostSource builds a Postgres-backed source from the NHost credential
// schema: subdomain, region, adminSecret, database, username, password, port.
func newNHostSource(creds Credentials) (Source, error) {
	for _, field := range []string{"subdomain", "region", "adminSecret", "database", "username", "password", "port"} {
		if _, err := creds.require(field); err != nil {
			return nil, err
		}
	}

	host := fmt.Sprintf("%s.db.%s.nhost.run", creds["subdomain"], creds["region"])
	dsn := fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=require",
		host, creds["port"], creds["database"], creds["username"], creds["password"])

	return newPGSource(ProviderNHost, dsn, creds["database"]), nil
}
