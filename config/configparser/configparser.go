/*
 * scsihba - Configuration file parser
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

package configparser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"unicode"

	"github.com/rcornwell/scsihba/config/settings"
)

// List of options to pass to create routine.
type Option struct {
	Name     string    // Name of option.
	EqualOpt string    // Value of string after =.
	Value    []*string // Value of option.
}

// Option after model.
type FirstOption struct {
	id    int    // Value of option if number.
	isID  bool   // Valid number in id.
	value string // String value of option.
}

// Current option line being parsed.
type optionLine struct {
	line   string // Current option line.
	pos    int    // Current position in line.
	number int    // Line number in file.
}

/* Configuration file format:
 *
 * '#' indicates comment, rest of line is ignored.
 * <line> := <model> <whitespace> <id> <whitespace> <options> |
 *            <file> <whitespace> <quoteopt> |
 *            <switch> |
 *            <option> <whitespace> <string> *(<options>)
 * <id> ::= <number>
 * <options> ::= *(<option> *(<whitespace>))
 * <option> ::= *<value> (<whitespace> | <eol>
 * <value> ::= <opt> *(',' *(<whitespace>) <string>
 * <opt> := <valueopt> | <string>
 * <optvalue> ::= <string>' =' <quoteopt>
 * <quoteopt> ::= <string> | '"' *(<letter> | <whitespace>) '"'
 * <string> ::= *(<letter> | <number>)
 */

const (
	TypeModel   = 1 + iota // Line needs a numeric id.
	TypeOption             // Accepts a option parameter.
	TypeOptions            // Accepts a list of options.
	TypeSwitch             // Option only used to set a flag.
	TypeFile               // Followed by a file name.
)

// NoID is passed when first parameter was not a number.
const NoID = -1

// Create function called for each line.
type CreateFunc func(cfg *settings.Settings, id int, value string, options []Option) error

// Model creation list.
type modelDef struct {
	create CreateFunc
	ty     int
}

var models = map[string]modelDef{}

// Return type of model or 0 if no model.
func getModel(mod string) int {
	model, ok := models[mod]
	if !ok {
		return 0
	}
	return model.ty
}

func register(mod string, ty int, fn CreateFunc) {
	mod = strings.ToUpper(mod)
	slog.Debug("Registering config: " + mod)
	models[mod] = modelDef{create: fn, ty: ty}
}

// Register should be called from init functions.
func RegisterModel(mod string, ty int, fn CreateFunc) {
	register(mod, ty, fn)
}

// Register should be called from init functions.
func RegisterSwitch(mod string, fn CreateFunc) {
	register(mod, TypeSwitch, fn)
}

// Register should be called from init functions.
func RegisterOption(mod string, fn CreateFunc) {
	register(mod, TypeOption, fn)
}

// Register should be called from init functions.
func RegisterFile(mod string, fn CreateFunc) {
	register(mod, TypeFile, fn)
}

func lookup(mod string, ty int, kind string) (modelDef, error) {
	mod = strings.ToUpper(mod)
	model, ok := models[mod]
	if !ok {
		return model, errors.New("Unknown " + kind + ": " + mod)
	}
	if model.ty != ty {
		return model, errors.New("Not a " + kind + " type: " + mod)
	}
	return model, nil
}

// Create a model with numeric id.
func createModel(cfg *settings.Settings, mod string, first *FirstOption, options []Option) error {
	model, err := lookup(mod, TypeModel, "model")
	if err != nil {
		return err
	}
	return model.create(cfg, first.id, "", options)
}

// Create a option with one parameter.
func createOption(cfg *settings.Settings, mod string, first *FirstOption) error {
	model, err := lookup(mod, TypeOption, "option")
	if err != nil {
		return err
	}
	return model.create(cfg, first.id, first.value, []Option{})
}

// Create a option with options.
func createOptions(cfg *settings.Settings, mod string, first *FirstOption, options []Option) error {
	model, err := lookup(mod, TypeOptions, "options")
	if err != nil {
		return err
	}
	return model.create(cfg, first.id, first.value, options)
}

// Create switch option.
func createSwitch(cfg *settings.Settings, mod string) error {
	model, err := lookup(mod, TypeSwitch, "switch")
	if err != nil {
		return err
	}
	return model.create(cfg, NoID, "", nil)
}

// Create file option.
func createFile(cfg *settings.Settings, mod string, name string) error {
	model, err := lookup(mod, TypeFile, "file")
	if err != nil {
		return err
	}
	return model.create(cfg, NoID, name, nil)
}

// Load in a configuration file.
func LoadConfigFile(name string, cfg *settings.Settings) error {
	file, err := os.Open(name)
	if err != nil {
		return err
	}
	defer file.Close()
	return Load(file, cfg)
}

// Load configuration lines from reader into cfg.
func Load(r io.Reader, cfg *settings.Settings) error {
	lineNumber := 0
	reader := bufio.NewReader(r)
	for {
		text, err := reader.ReadString('\n')
		lineNumber++
		if len(text) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		line := optionLine{line: text, number: lineNumber}
		if perr := line.parseLine(cfg); perr != nil {
			return perr
		}
	}
	return nil
}

// Parse one line from file.
func (line *optionLine) parseLine(cfg *settings.Settings) error {
	model := line.parseModel()
	if model == "" {
		return nil
	}
	switch getModel(model) {
	case TypeModel:
		first := line.parseFirst()
		if first == nil || !first.isID {
			return fmt.Errorf("%s requires a number, line: %d", model, line.number)
		}
		options, err := line.parseOptions()
		if err != nil {
			return err
		}
		return createModel(cfg, model, first, options)

	case TypeOption:
		first := line.parseFirst()
		line.skipSpace()
		if !line.isEOL() || first == nil {
			return fmt.Errorf("option: %s not followed by value, line: %d", model, line.number)
		}
		return createOption(cfg, model, first)

	case TypeOptions:
		first := line.parseFirst()
		if first == nil {
			return fmt.Errorf("option: %s not followed by value, line: %d", model, line.number)
		}
		options, err := line.parseOptions()
		if err != nil {
			return err
		}
		return createOptions(cfg, model, first, options)

	case TypeSwitch:
		line.skipSpace()
		if !line.isEOL() {
			return fmt.Errorf("switch option: %s followed by options, line: %d", model, line.number)
		}
		return createSwitch(cfg, model)

	case TypeFile:
		name, ok := line.parseFileName()
		if !ok || name == "" {
			return fmt.Errorf("%s requires a file name, line: %d", model, line.number)
		}
		return createFile(cfg, model, name)
	}
	return fmt.Errorf("no type: %s registered, line: %d", model, line.number)
}

// Skip forward over line until none whitespace character found.
func (line *optionLine) skipSpace() {
	for line.pos < len(line.line) && unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
}

// Check if at end of line.
func (line *optionLine) isEOL() bool {
	if line.pos >= len(line.line) {
		return true
	}
	return line.line[line.pos] == '#'
}

func isWord(by byte) bool {
	return unicode.IsLetter(rune(by)) || unicode.IsNumber(rune(by))
}

// Grab run of letters and digits.
func (line *optionLine) getWord() string {
	value := ""
	for !line.isEOL() && isWord(line.line[line.pos]) {
		value += string([]byte{line.line[line.pos]})
		line.pos++
	}
	return value
}

// Parse model name.
func (line *optionLine) parseModel() string {
	line.skipSpace()
	if line.isEOL() {
		return ""
	}
	return strings.ToUpper(line.getWord())
}

// Parse first option parameter.
func (line *optionLine) parseFirst() *FirstOption {
	line.skipSpace()
	if line.isEOL() {
		return nil
	}

	value := line.getWord()
	option := FirstOption{id: NoID, value: value}
	id, err := strconv.ParseUint(value, 10, 8)
	if err == nil {
		option.id = int(id)
		option.isID = true
	}
	return &option
}

// Parse file name, quoted or up to next space.
func (line *optionLine) parseFileName() (string, bool) {
	line.skipSpace()
	if line.isEOL() {
		return "", false
	}
	if line.line[line.pos] == '"' {
		line.pos--
		name, ok := line.parseQuoteString()
		line.skipSpace()
		return name, ok && line.isEOL()
	}
	start := line.pos
	for line.pos < len(line.line) && !unicode.IsSpace(rune(line.line[line.pos])) {
		line.pos++
	}
	name := line.line[start:line.pos]
	line.skipSpace()
	return name, line.isEOL()
}

// Parse string that is "string" or just string, starting after line.pos.
func (line *optionLine) parseQuoteString() (string, bool) {
	line.pos++
	if line.pos < len(line.line) && line.line[line.pos] == '"' {
		value := ""
		for {
			line.pos++
			if line.pos >= len(line.line) || line.line[line.pos] == '\n' {
				return value, false
			}
			by := line.line[line.pos]
			// Inside quotes "" is a single quote.
			if by == '"' {
				line.pos++
				if line.pos >= len(line.line) || line.line[line.pos] != '"' {
					return value, true
				}
			}
			value += string(by)
		}
	}

	start := line.pos
	for line.pos < len(line.line) {
		by := line.line[line.pos]
		if unicode.IsSpace(rune(by)) || by == ',' || by == '#' {
			break
		}
		line.pos++
	}
	return line.line[start:line.pos], true
}

// Parse option name.
func (line *optionLine) getName() (string, error) {
	if line.isEOL() {
		return "", nil
	}

	// First character must be alphabetic.
	by := line.line[line.pos]
	if !unicode.IsLetter(rune(by)) {
		return "", fmt.Errorf("invalid option encountered line: %d [%d]", line.number, line.pos)
	}
	return line.getWord(), nil
}

// Parse options for a line.
func (line *optionLine) parseOption() (*Option, error) {
	line.skipSpace()

	value, err := line.getName()
	if value == "" {
		return nil, err
	}

	option := Option{Name: value}

	if line.isEOL() {
		return &option, nil
	}

	// Check if equals option.
	if line.line[line.pos] == '=' {
		v, ok := line.parseQuoteString()
		if !ok {
			return nil, fmt.Errorf("invalid quoted string line: %d [%d]", line.number, line.pos)
		}
		option.EqualOpt = v
	}

	line.skipSpace()

	// Grab all , options
	for !line.isEOL() && line.line[line.pos] == ',' {
		line.pos++
		line.skipSpace()
		v, err := line.getName()
		if err != nil {
			return nil, err
		}
		if v != "" {
			option.Value = append(option.Value, &v)
		}
		line.skipSpace()
	}

	return &option, nil
}

// Collect all options for line.
func (line *optionLine) parseOptions() ([]Option, error) {
	options := []Option{}
	for {
		option, err := line.parseOption()
		if err != nil {
			return nil, err
		}
		if option == nil {
			break
		}
		options = append(options, *option)
	}
	return options, nil
}

// Helpers for create functions.

// Return option value as a number.
func (opt *Option) Int() (int, error) {
	if opt.EqualOpt == "" {
		return 0, fmt.Errorf("option %s requires a value", opt.Name)
	}
	v, err := strconv.ParseInt(opt.EqualOpt, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("option %s value %s not a number", opt.Name, opt.EqualOpt)
	}
	return int(v), nil
}

// Return names of option and all comma values.
func (opt *Option) Names() []string {
	names := []string{opt.Name}
	for _, v := range opt.Value {
		names = append(names, *v)
	}
	return names
}
