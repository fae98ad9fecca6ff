package whiteboard

import "hash/fnv"

// Palette is the fixed set of participant colours.
var Palette = []string{
	"#E03131", "#2F9E44", "#1971C2", "#F08C00",
	"#9C36B5", "#0C8599", "#E8590C", "#5C940D",
	"#3B5BDB", "#C2255C", "#087F5B", "#862E9C",
}

// ColorOf maps a user id onto the palette with FNV-1a, so a user keeps the
// same colour across sessions and processes.
func ColorOf(userId string) string {
	h := fnv.New32a()
	h.Write([]byte(userId))
	return Palette[h.Sum32()%uint32(len(Palette))]
}
