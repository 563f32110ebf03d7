// Package names assigns stable human-readable agent names. The pick
// is a deterministic function of the agent id, so an agent that
// reconnects without a name gets the same one back.
package names

import (
	"fmt"
	"hash/fnv"
)

// dictionary is the fixed pool of base names. Order matters: the hash
// of the agent id indexes into it, so reordering would rename every
// agent in existing projects.
var dictionary = []string{
	"ant", "badger", "beaver", "bison", "camel", "cobra", "condor",
	"coyote", "crane", "dingo", "falcon", "ferret", "fox", "gecko",
	"gibbon", "heron", "hornet", "ibex", "iguana", "jackal", "jaguar",
	"kestrel", "koala", "lemur", "lynx", "macaw", "magpie", "marmot",
	"mole", "moose", "narwhal", "ocelot", "osprey", "otter", "owl",
	"panther", "pelican", "puffin", "quail", "raven", "serval", "shrew",
	"stoat", "swift", "tapir", "toucan", "viper", "walrus", "weasel",
	"wombat",
}

// Pick returns the name for the given agent id. taken reports whether
// a candidate is already in use by a different agent; collisions get a
// numeric suffix, lowest free number first.
func Pick(agentID string, taken func(string) bool) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(agentID))
	base := dictionary[int(h.Sum32())%len(dictionary)]
	if !taken(base) {
		return base
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !taken(candidate) {
			return candidate
		}
	}
}
