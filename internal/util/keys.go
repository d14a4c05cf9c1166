package util

import "strconv"

// EntityKey is the fast-read snapshot key: "{project}:{type}:{uid}".
func EntityKey(project, typeName, uid string) string {
	return project + ":" + typeName + ":" + uid
}

// UpdatesHashKey is the staged-write hash: "{project}:{type}_updates_hash".
func UpdatesHashKey(project, typeName string) string {
	return project + ":" + typeName + "_updates_hash"
}

// DrainKey names the hash a staged-write hash is renamed to for drain gen.
func DrainKey(hashKey string, gen uint64) string {
	return hashKey + ":drain:" + strconv.FormatUint(gen, 10)
}
