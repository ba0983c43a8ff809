package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// ResourceType names a transferable resource kind.
type ResourceType string

const (
	ResourceUsers       ResourceType = "users"
	ResourceTeams       ResourceType = "teams"
	ResourceMemberships ResourceType = "memberships"
	ResourceDatabases   ResourceType = "databases"
	ResourceCollections ResourceType = "collections"
	ResourceDocuments   ResourceType = "documents"
	ResourceBuckets     ResourceType = "buckets"
	ResourceFiles       ResourceType = "files"
	ResourceFunctions   ResourceType = "functions"
)

// DependencyOrder lists all resource types in the order they must be
// transferred so that references resolve at the destination: a user must exist
// before its membership, a collection before its documents, a bucket before
// its files.
var DependencyOrder = []ResourceType{
	ResourceUsers,
	ResourceTeams,
	ResourceMemberships,
	ResourceDatabases,
	ResourceCollections,
	ResourceDocuments,
	ResourceBuckets,
	ResourceFiles,
	ResourceFunctions,
}

// OrderResourceTypes filters the requested type names down to the types a
// provider supports, returned in dependency order. Unknown names are dropped.
func OrderResourceTypes(requested []string, supported []ResourceType) []ResourceType {
	want := make(map[ResourceType]bool, len(requested))
	for _, r := range requested {
		want[ResourceType(r)] = true
	}
	ok := make(map[ResourceType]bool, len(supported))
	for _, s := range supported {
		ok[s] = true
	}
	var out []ResourceType
	for _, rt := range DependencyOrder {
		if want[rt] && ok[rt] {
			out = append(out, rt)
		}
	}
	return out
}

// Resource is one transferable instance fetched from a source.
type Resource struct {
	Type ResourceType   `json:"type"`
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

// Fingerprint returns a stable content hash of the resource payload, used to
// detect an identical copy already present at the destination. Keys are
// hashed in sorted order so map iteration does not affect the result.
func (r *Resource) Fingerprint() string {
	h := sha256.New()
	keys := make([]string, 0, len(r.Data))
	for k := range r.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, _ := json.Marshal(r.Data[k])
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write(v)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TransferStatus is the per-instance outcome recorded by the coordinator.
type TransferStatus string

const (
	TransferPending TransferStatus = "pending"
	TransferSuccess TransferStatus = "success"
	TransferSkipped TransferStatus = "skipped"
	TransferFailed  TransferStatus = "error"
)
