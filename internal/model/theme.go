package model

// Theme is a spectrogram color scheme understood by the classification
// service.
type Theme struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// AvailableThemes lists the spectrogram color schemes the service renders.
var AvailableThemes = []Theme{
	{Name: "dark_viridis", Label: "Dark Viridis"},
	{Name: "bright_plasma", Label: "Bright Plasma"},
	{Name: "classic_grayscale", Label: "Classic Grayscale"},
	{Name: "inferno", Label: "Inferno"},
	{Name: "magma", Label: "Magma"},
	{Name: "jet", Label: "Jet"},
}

// ValidTheme reports whether name is a recognized spectrogram theme.
func ValidTheme(name string) bool {
	for _, t := range AvailableThemes {
		if t.Name == name {
			return true
		}
	}
	return false
}
