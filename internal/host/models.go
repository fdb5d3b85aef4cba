package host

import "sort"

// Zone represents a room or area in the host's device topology
type Zone struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
	Icon   string `json:"icon,omitempty"`
}

// Mood represents a host-defined scene preset bound to a zone
type Mood struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Zone string `json:"zone"`
}

// FilterByZone returns the moods that belong to zoneID, keeping their order.
func FilterByZone(moods []Mood, zoneID string) []Mood {
	out := make([]Mood, 0, len(moods))
	for _, m := range moods {
		if m.Zone == zoneID {
			out = append(out, m)
		}
	}
	return out
}

// FindZone looks up a zone by ID.
func FindZone(zones []Zone, zoneID string) (Zone, bool) {
	for _, z := range zones {
		if z.ID == zoneID {
			return z, true
		}
	}
	return Zone{}, false
}

// The host keys its collections by id in a JSON object, so the wire order is lost.
// Sorting by name then id gives every listing a stable order.

func sortZones(zones []Zone) {
	sort.Slice(zones, func(i, j int) bool {
		if zones[i].Name != zones[j].Name {
			return zones[i].Name < zones[j].Name
		}
		return zones[i].ID < zones[j].ID
	})
}

func sortMoods(moods []Mood) {
	sort.Slice(moods, func(i, j int) bool {
		if moods[i].Name != moods[j].Name {
			return moods[i].Name < moods[j].Name
		}
		return moods[i].ID < moods[j].ID
	})
}
