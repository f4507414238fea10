// Package roomname makes short, speakable room ids such as
// "amber-heron-lantern".
package roomname

import (
	"crypto/rand"
	"math/big"
	"strings"
)

var adjectives = []string{
	"amber", "brisk", "calm", "dusky", "eager", "fuzzy", "gentle", "hazy", "icy", "jolly",
	"keen", "lucky", "mellow", "nimble", "olive", "plucky", "quiet", "rosy", "sunny", "tidy",
	"umber", "vivid", "witty", "young", "zesty", "bold", "crisp", "dewy", "frosty", "golden",
}

var creatures = []string{
	"heron", "otter", "badger", "lynx", "marmot", "puffin", "gecko", "bison", "koala", "walrus",
	"falcon", "newt", "ibis", "yak", "moose", "stoat", "wombat", "crane", "tapir", "okapi",
	"llama", "raven", "seal", "shrew", "quokka", "finch", "panda", "mole", "lemur", "hare",
}

var things = []string{
	"lantern", "kettle", "comet", "harbor", "meadow", "pebble", "rocket", "teapot", "canyon", "beacon",
	"compass", "glacier", "violin", "orchard", "quill", "saddle", "tundra", "anchor", "biscuit", "cobble",
	"ember", "fjord", "grotto", "island", "jigsaw", "marble", "nebula", "parcel", "ridge", "willow",
}

// Generate returns a random three word id. taken, when non-nil, rejects ids
// that are already in use.
func Generate(taken func(string) bool) string {
	for {
		id := strings.Join([]string{pick(adjectives), pick(creatures), pick(things)}, "-")
		if taken == nil || !taken(id) {
			return id
		}
	}
}

func pick(words []string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		panic("roomname: crypto/rand failed: " + err.Error())
	}
	return words[n.Int64()]
}
