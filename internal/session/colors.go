package session

// DefaultPalette holds the cursor colors handed to session participants.
var DefaultPalette = []string{
	"#e06c75",
	"#61afef",
	"#98c379",
	"#e5c07b",
	"#c678dd",
	"#56b6c2",
	"#d19a66",
	"#abb2bf",
}

// assignColor picks the first palette color not already in use, scanning in
// palette index order so allocation is deterministic. An exhausted palette
// falls back to its first color.
func assignColor(palette []string, inUse map[string]bool) string {
	if len(palette) == 0 {
		return ""
	}
	for _, color := range palette {
		if !inUse[color] {
			return color
		}
	}
	return palette[0]
}
