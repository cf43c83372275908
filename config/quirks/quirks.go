/*
 * scsihba - Controller quirk table
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

package quirks

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed quirks.toml
var builtin string

// Capabilities of one controller model and revision range.
type Chip struct {
	Name          string `toml:"name"`
	MinRevision   int    `toml:"min_revision"`
	MaxRevision   int    `toml:"max_revision"`
	Wide          bool   `toml:"wide"`
	DT            bool   `toml:"dt"`
	MinSync       int    `toml:"min_sync"`
	MinSyncDT     int    `toml:"min_sync_dt"`
	MaxSync       int    `toml:"max_sync"`
	MaxOffset     int    `toml:"max_offset"`
	MaxOffsetDT   int    `toml:"max_offset_dt"`
	ClockKHz      int    `toml:"clock_khz"`
	DTFactor      int    `toml:"dt_factor"`
	NoExtraClocks bool   `toml:"no_extra_clocks"`
}

type Table struct {
	Chips []Chip `toml:"chip"`
}

func decode(md toml.MetaData, err error, name string) error {
	if err != nil {
		return fmt.Errorf("quirk table %s: %w", name, err)
	}
	if un := md.Undecoded(); len(un) != 0 {
		keys := make([]string, len(un))
		for i, k := range un {
			keys[i] = k.String()
		}
		return fmt.Errorf("quirk table %s: unknown keys %s", name, strings.Join(keys, ", "))
	}
	return nil
}

// Return the built in table.
func Default() (*Table, error) {
	var t Table
	md, err := toml.Decode(builtin, &t)
	if err := decode(md, err, "builtin"); err != nil {
		return nil, err
	}
	return &t, nil
}

// Load table from file.
func Load(path string) (*Table, error) {
	var t Table
	md, err := toml.DecodeFile(path, &t)
	if err := decode(md, err, path); err != nil {
		return nil, err
	}
	return &t, t.check()
}

// Parse table from a string.
func Parse(text string) (*Table, error) {
	var t Table
	md, err := toml.Decode(text, &t)
	if err := decode(md, err, "text"); err != nil {
		return nil, err
	}
	return &t, t.check()
}

func (t *Table) check() error {
	for _, c := range t.Chips {
		if c.Name == "" {
			return fmt.Errorf("quirk table: chip without name")
		}
		if c.MinSync <= 0 || c.MaxOffset <= 0 || c.ClockKHz <= 0 {
			return fmt.Errorf("quirk table: chip %s missing min_sync, max_offset or clock_khz", c.Name)
		}
		if c.DT && (c.MinSyncDT <= 0 || c.MaxOffsetDT <= 0) {
			return fmt.Errorf("quirk table: chip %s has dt without dt limits", c.Name)
		}
	}
	return nil
}

// Find entry for chip and revision.
func (t *Table) Lookup(name string, revision int) (Chip, error) {
	for _, c := range t.Chips {
		if strings.EqualFold(c.Name, name) && revision >= c.MinRevision && revision <= c.MaxRevision {
			if c.MaxSync == 0 {
				c.MaxSync = 255
			}
			return c, nil
		}
	}
	return Chip{}, fmt.Errorf("no quirk entry for chip %s revision %d", name, revision)
}
