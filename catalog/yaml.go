package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/warp/progression-engine/progression"
)

// Catalog is everything an operator can author in one YAML file.
//
//	challenges:
//	  - id: daily-steps
//	    category: daily
//	    target: 10000
//	items:
//	  - id: headband
//	    price: 50
//	journey:
//	  - id: start
//	    challenge_id: first-steps
//	    unlocks: [warmup]
type Catalog struct {
	Challenges []progression.ChallengeDefinition `yaml:"challenges"`
	Items      []progression.InventoryItem       `yaml:"items"`
	Journey    []progression.NodeDefinition      `yaml:"journey"`
}

// Default returns the built-in catalog anchored on now.
func Default(now time.Time) Catalog {
	return Catalog{
		Challenges: DefaultChallenges(now),
		Items:      DefaultItems(),
		Journey:    DefaultJourney(),
	}
}

// Parse decodes a catalog. Unknown fields are rejected so a typo in a
// key fails loudly instead of silently dropping a value.
func Parse(data []byte) (Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	return c, nil
}

func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// WithDefaults fills sections left empty in c from Default(now).
func (c Catalog) WithDefaults(now time.Time) Catalog {
	d := Default(now)
	if len(c.Challenges) == 0 {
		c.Challenges = d.Challenges
	}
	if len(c.Items) == 0 {
		c.Items = d.Items
	}
	if len(c.Journey) == 0 {
		c.Journey = d.Journey
	}
	return c
}

// Validate checks every section and reports all problems at once.
func (c Catalog) Validate() error {
	var errs error

	known := make(map[progression.DefinitionID]bool, len(c.Challenges))
	for _, d := range c.Challenges {
		if err := d.Validate(); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if known[d.ID] {
			errs = multierr.Append(errs, fmt.Errorf("challenge definition %s: duplicate id", d.ID))
		}
		known[d.ID] = true
	}

	if _, err := progression.NewShop(c.Items); err != nil {
		errs = multierr.Append(errs, err)
	}

	if _, err := progression.NewJourney(c.Journey); err != nil {
		errs = multierr.Append(errs, err)
	}
	for _, n := range c.Journey {
		if n.ChallengeID != "" && len(c.Challenges) > 0 && !known[n.ChallengeID] {
			errs = multierr.Append(errs, fmt.Errorf("journey node %s: %w: %s", n.ID, progression.ErrUnknownChallenge, n.ChallengeID))
		}
	}
	return errs
}
