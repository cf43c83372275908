/*
 * scsihba - Console command line parser
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

package parser

import (
	"errors"
	"strings"
	"unicode"

	command "github.com/rcornwell/scsihba/command/command"
	core "github.com/rcornwell/scsihba/emu/core"
)

type cmd struct {
	Name     string // Command name.
	Min      int    // Minimum match size.
	Process  func(*cmdLine, *core.Core) (bool, error)
	Complete func(*cmdLine) []string
}

type cmdLine struct {
	line string // Current command.
	pos  int    // Position in line.
}

// Execute the command line given. Returns true when the console should
// exit.
func ProcessCommand(commandLine string, core *core.Core) (bool, error) {
	line := cmdLine{line: commandLine}
	command := line.getWord(false)
	if command == "" {
		if line.isEOL() {
			return false, nil
		}
		return false, errors.New("command must start with a name")
	}

	match := matchList(command)
	if len(match) == 0 {
		return false, errors.New("command not found: " + command)
	}

	if len(match) > 1 {
		return false, errors.New("unique command not found: " + command)
	}

	return match[0].Process(&line, core)
}

// Check if command matches at least to minimum length.
func matchCommand(match cmd, command string) bool {
	if len(command) > len(match.Name) {
		return false
	}
	return strings.HasPrefix(match.Name, command) && len(command) >= match.Min
}

// Check if command matches one of the commands.
func matchList(command string) []cmd {
	if command == "" {
		return []cmd{}
	}

	var match []cmd
	for _, m := range cmdList {
		if matchCommand(m, command) {
			match = append(match, m)
		}
	}
	return match
}

// Match list of options.
func matchOption(option string, optList []command.Options) command.Options {
	for _, opt := range optList {
		if opt.Name == option {
			return opt
		}
	}
	return command.Options{OptionType: -1}
}

// Skip forward over line until none whitespace character found.
func (line *cmdLine) skipSpace() {
	for line.pos < len(line.line) && unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
}

// Check if at end of line.
func (line *cmdLine) isEOL() bool {
	if line.pos >= len(line.line) {
		return true
	}
	return line.line[line.pos] == '#'
}

// Return current character and advance to next.
func (line *cmdLine) getCurrent() byte {
	if line.isEOL() {
		return 0
	}
	by := line.line[line.pos]
	line.pos++
	return by
}

// Peek at current character.
func (line *cmdLine) peek() byte {
	if line.isEOL() {
		return 0
	}
	return line.line[line.pos]
}

// Parse a decimal number, stops at space or end of line.
func (line *cmdLine) getNumber() (uint32, error) {
	line.skipSpace()
	if line.isEOL() {
		return 0, errors.New("not a number")
	}

	pos := line.pos
	value := uint32(0)
	for by := line.peek(); by != 0 && !unicode.IsSpace(rune(by)); by = line.peek() {
		if !unicode.IsDigit(rune(by)) {
			line.pos = pos
			return 0, errors.New("not a number")
		}
		value = (value * 10) + uint32(by-'0')
		line.pos++
	}
	return value, nil
}

const hexDigits = "0123456789abcdef"

// Parse hex number.
func (line *cmdLine) getHex() (uint32, error) {
	line.skipSpace()
	if line.isEOL() {
		return 0, errors.New("not a number")
	}

	pos := line.pos
	value := uint32(0)
	for by := line.peek(); by != 0 && !unicode.IsSpace(rune(by)); by = line.peek() {
		digit := strings.IndexByte(hexDigits, byte(unicode.ToLower(rune(by))))
		if digit == -1 {
			line.pos = pos
			return 0, errors.New("not a number")
		}
		value = (value << 4) + uint32(digit)
		line.pos++
	}
	return value, nil
}

// Parse name. When equal is set the name may end at an =, which is left
// in the line.
func (line *cmdLine) getWord(equal bool) string {
	line.skipSpace()

	value := ""
	pos := line.pos
	for by := line.peek(); by != 0 && !unicode.IsSpace(rune(by)); by = line.peek() {
		if by == '=' && equal {
			break
		}
		if !unicode.IsLetter(rune(by)) {
			line.pos = pos
			return ""
		}
		value += string([]byte{by})
		line.pos++
	}
	return strings.ToLower(value)
}

// Parse one option against list of valid options. Returns nil at end of
// line.
func (line *cmdLine) getOption(opts []command.Options) (*command.CmdOption, error) {
	line.skipSpace()
	if line.isEOL() {
		return nil, nil
	}
	name := line.getWord(true)
	if name == "" {
		return nil, errors.New("option name expected")
	}
	opt := command.CmdOption{Name: name}

	match := matchOption(name, opts)
	switch match.OptionType {
	case -1:
		return nil, errors.New("unknown option: " + name)
	case command.OptionSwitch:
		if line.peek() == '=' {
			return nil, errors.New("switch option can't have arguments: " + name)
		}
	case command.OptionNumber:
		if line.getCurrent() != '=' {
			return nil, errors.New("number options must be followed by number: " + name)
		}
		num, err := line.getNumber()
		if err != nil {
			return nil, errors.New("number options must be followed by number: " + name)
		}
		opt.Value = num
	case command.OptionHex:
		if line.getCurrent() != '=' {
			return nil, errors.New("hex options must be followed by hexadecimal number: " + name)
		}
		num, err := line.getHex()
		if err != nil {
			return nil, errors.New("hex options must be followed by hexadecimal number: " + name)
		}
		opt.Value = num
	case command.OptionList:
		if line.getCurrent() != '=' {
			return nil, errors.New("list options must be followed by name: " + name)
		}
		value := line.getWord(false)
		for _, mod := range match.OptionList {
			if strings.ToLower(mod) == value {
				opt.EqualOpt = value
				return &opt, nil
			}
		}
		return nil, errors.New("value not valid for option: " + name)
	default:
		return nil, errors.New("invalid option type: " + name)
	}
	return &opt, nil
}

// Scan options until end of line.
func (line *cmdLine) getOptions(opts []command.Options) ([]*command.CmdOption, error) {
	optlist := []*command.CmdOption{}
	for {
		opt, err := line.getOption(opts)
		if err != nil {
			return optlist, err
		}
		if opt == nil {
			return optlist, nil
		}
		optlist = append(optlist, opt)
	}
}
