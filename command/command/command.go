/*
 * scsihba - Console command options
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

package command

// Option given to a console command.
type CmdOption struct {
	Name     string // Name of option.
	EqualOpt string // Value of string after =.
	Value    uint32 // Numeric value.
}

// List of option types.
const (
	OptionSwitch = 1 + iota
	OptionNumber
	OptionHex
	OptionList
)

// Option a command accepts.
type Options struct {
	Name       string   // Name of option.
	OptionType int      // Type of argument.
	OptionList []string // List of valid values for list options.
}

// Find named option in list given.
func Find(opts []*CmdOption, name string) (*CmdOption, bool) {
	for _, opt := range opts {
		if opt.Name == name {
			return opt, true
		}
	}
	return nil, false
}

// Value of numeric option, def if not given.
func Number(opts []*CmdOption, name string, def uint32) uint32 {
	if opt, ok := Find(opts, name); ok {
		return opt.Value
	}
	return def
}

// True if switch was given.
func Switch(opts []*CmdOption, name string) bool {
	_, ok := Find(opts, name)
	return ok
}
