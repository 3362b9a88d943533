package signaling

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// Word pools for generated room names.
var (
	roomAdjectives = []string{
		"amber", "brave", "calm", "clear", "cozy", "gentle", "golden", "happy", "jolly", "kind",
		"lucky", "mellow", "merry", "quiet", "silver", "sunny", "swift", "tidy", "warm", "witty",
	}
	roomNouns = []string{
		"badger", "beaver", "robin", "dolphin", "falcon", "heron", "koala", "lynx", "otter", "panda",
		"pelican", "puffin", "raccoon", "sparrow", "swan", "tiger", "toucan", "walrus", "wren", "yak",
	}
	roomExtras = []string{
		"breeze", "canyon", "cedar", "comet", "ember", "harbor", "lantern", "maple", "meadow", "orbit",
		"pebble", "ridge", "river", "summit", "thistle", "tulip", "valley", "willow", "harvest", "zephyr",
	}
)

// NewRoomName returns a memorable room name such as "calm-otter-maple".
// taken, when non-nil, rejects names already in use.
func NewRoomName(taken func(string) bool) string {
	for {
		name := strings.Join([]string{
			pick(roomAdjectives),
			pick(roomNouns),
			pick(roomExtras),
		}, "-")
		if taken == nil || !taken(name) {
			return name
		}
	}
}

func pick(words []string) string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return words[n.Int64()]
}
