package registry

import "encoding/binary"

// Keyspace helpers.
//
// Layout (lexicographically sortable):
// - reg/{account}/m              (latest version, be4)
// - reg/{account}/k/{ver_be4}    (RegisteredKey JSON, immutable)
// - grp/{group_id}               (GroupMeta JSON, immutable)
// - regmeta/profiles             (profile counter, be8)
// - regmeta/groups               (group counter, be8)

var (
	regPrefix    = []byte("reg/")
	grpPrefix    = []byte("grp/")
	latestSuffix = []byte("/m")
	keySeg       = []byte("/k/")

	profileCountKey = []byte("regmeta/profiles")
	groupCountKey   = []byte("regmeta/groups")
)

func keyLatest(account string) []byte {
	k := make([]byte, 0, len(regPrefix)+len(account)+len(latestSuffix))
	k = append(k, regPrefix...)
	k = append(k, account...)
	k = append(k, latestSuffix...)
	return k
}

func keyVersion(account string, version uint32) []byte {
	k := make([]byte, 0, len(regPrefix)+len(account)+len(keySeg)+4)
	k = append(k, regPrefix...)
	k = append(k, account...)
	k = append(k, keySeg...)
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], version)
	k = append(k, v[:]...)
	return k
}

func keyGroup(groupID string) []byte {
	k := make([]byte, 0, len(grpPrefix)+len(groupID))
	k = append(k, grpPrefix...)
	k = append(k, groupID...)
	return k
}
