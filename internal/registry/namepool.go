package registry

// adjectives and nouns form the built-in dictionary AllocateName draws
// from. A daemon operator can extend or replace this list by dropping a
// namepool.yaml file into the daemon's data directory (see
// LoadNamePoolOverride, which daemon.New calls), the same overlay-a-YAML-file-
// onto-built-in-defaults pattern internal/daemon/project.go used for
// grove.yaml in the teacher repo.
var (
	adjectives = []string{
		"amber", "brave", "calm", "cosmic", "crisp", "dusty", "eager",
		"fleet", "gentle", "golden", "hardy", "hidden", "humble", "icy",
		"jolly", "keen", "lively", "lucid", "mellow", "misty", "nimble",
		"noble", "ocean", "plain", "quiet", "rapid", "rustic", "sharp",
		"silent", "solar", "steady", "sturdy", "sunny", "swift", "tidy",
		"vivid", "warm", "wild", "windy", "wise",
	}
	nouns = []string{
		"badger", "bison", "canyon", "cedar", "comet", "condor", "coral",
		"creek", "delta", "desert", "eagle", "ember", "falcon", "fern",
		"fjord", "glacier", "harbor", "heron", "island", "juniper",
		"kestrel", "lagoon", "lantern", "maple", "meadow", "mesa",
		"otter", "pebble", "plateau", "quartz", "raven", "ridge",
		"river", "sparrow", "summit", "tundra", "valley", "willow",
		"wren", "zephyr",
	}
)
