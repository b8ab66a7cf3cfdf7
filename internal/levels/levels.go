// Package levels holds the level map: phases of worlds of named levels.
// A level is identified by "<worldID>-<index>".
package levels

import (
	_ "embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed levels.yaml
var catalogYAML []byte

var (
	levelIDRegex       = regexp.MustCompile(`^\d+-\d+$`)
	questionCountRegex = regexp.MustCompile(`(\d+)\s+Preguntas`)
)

// Phase is a group of worlds unlocked together.
type Phase struct {
	Title  string  `yaml:"title" json:"title"`
	Worlds []World `yaml:"worlds" json:"worlds"`
}

// World is a themed set of levels.
type World struct {
	ID     int      `yaml:"id" json:"id"`
	Name   string   `yaml:"name" json:"name"`
	Desc   string   `yaml:"desc" json:"desc"`
	Levels []string `yaml:"levels" json:"levels"`
}

// Level is one entry of the flattened map.
type Level struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	WorldID    int    `json:"world_id"`
	WorldName  string `json:"world_name"`
	Index      int    `json:"index"`
	PhaseIndex int    `json:"phase_index"`
	PhaseTitle string `json:"phase_title"`
}

// Catalog is the loaded level map.
type Catalog struct {
	Phases []Phase
	flat   []Level
	byID   map[string]int
}

// Load parses the embedded level map.
func Load() (*Catalog, error) {
	return Parse(catalogYAML)
}

// Parse builds a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Phases []Phase `yaml:"phases"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse level catalog: %w", err)
	}
	c := &Catalog{Phases: doc.Phases, byID: map[string]int{}}
	for pi, p := range c.Phases {
		if len(p.Worlds) == 0 {
			return nil, fmt.Errorf("phase %q has no worlds", p.Title)
		}
		for _, w := range p.Worlds {
			if len(w.Levels) == 0 {
				return nil, fmt.Errorf("world %d has no levels", w.ID)
			}
			for i, name := range w.Levels {
				id := LevelID(w.ID, i)
				if _, dup := c.byID[id]; dup {
					return nil, fmt.Errorf("duplicate level %s", id)
				}
				c.byID[id] = len(c.flat)
				c.flat = append(c.flat, Level{
					ID: id, Name: name, WorldID: w.ID, WorldName: w.Name,
					Index: i, PhaseIndex: pi, PhaseTitle: p.Title,
				})
			}
		}
	}
	return c, nil
}

// LevelID formats a level identifier.
func LevelID(worldID, index int) string {
	return strconv.Itoa(worldID) + "-" + strconv.Itoa(index)
}

// ValidID reports whether id looks like "<world>-<index>".
func ValidID(id string) bool {
	return levelIDRegex.MatchString(id)
}

// Flat returns every level in map order.
func (c *Catalog) Flat() []Level {
	return c.flat
}

// Get returns the level with the given id.
func (c *Catalog) Get(id string) (Level, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Level{}, false
	}
	return c.flat[i], true
}

// Lookup finds a level by name. Several worlds reuse names such as
// "Verificación de Resultados"; the first one in map order wins.
func (c *Catalog) Lookup(name string) (Level, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Level{}, false
	}
	for _, l := range c.flat {
		if l.Name == name {
			return l, true
		}
	}
	return Level{}, false
}

// NextLevel returns the first level not yet completed.
func (c *Catalog) NextLevel(completed map[string]bool) (Level, bool) {
	for _, l := range c.flat {
		if !completed[l.ID] {
			return l, true
		}
	}
	return Level{}, false
}

// LevelUnlocked reports whether a level can be played: the very first
// level, any level whose predecessor in map order is completed, and any
// completed level.
func (c *Catalog) LevelUnlocked(id string, completed map[string]bool) bool {
	i, ok := c.byID[id]
	if !ok {
		return false
	}
	return i == 0 || completed[id] || completed[c.flat[i-1].ID]
}

// PhaseUnlocked reports whether phase i is open: the first phase always
// is, later phases open once the previous phase's last level is completed
// or any of their own levels is.
func (c *Catalog) PhaseUnlocked(i int, completed map[string]bool) bool {
	if i < 0 || i >= len(c.Phases) {
		return false
	}
	if i == 0 {
		return true
	}
	prev := c.Phases[i-1]
	last := prev.Worlds[len(prev.Worlds)-1]
	if completed[LevelID(last.ID, len(last.Levels)-1)] {
		return true
	}
	for _, w := range c.Phases[i].Worlds {
		prefix := strconv.Itoa(w.ID) + "-"
		for id := range completed {
			if completed[id] && strings.HasPrefix(id, prefix) {
				return true
			}
		}
	}
	return false
}

// MasteredWorlds counts worlds whose levels are all completed.
func (c *Catalog) MasteredWorlds(completed map[string]bool) int {
	n := 0
	for _, p := range c.Phases {
		for _, w := range p.Worlds {
			all := true
			for i := range w.Levels {
				if !completed[LevelID(w.ID, i)] {
					all = false
					break
				}
			}
			if all {
				n++
			}
		}
	}
	return n
}

// QuestionCount extracts the question count of a simulator level name such
// as "Simulación Inicial (45 Preguntas)".
func QuestionCount(name string) (int, bool) {
	m := questionCountRegex.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Set turns a list of level ids into a lookup set.
func Set(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
