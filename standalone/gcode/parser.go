// Package gcode parses and executes the G-code subset the machine supports.
package gcode

import (
	"fmt"
	"strconv"
	"strings"

	"pulsecnc/standalone"
)

// Parser turns G-code lines into commands
type Parser struct{}

// NewParser creates a new G-code parser
func NewParser() *Parser {
	return &Parser{}
}

// ParseLine parses a single line of G-code. Blank lines return nil; a
// comment-only line returns a command with only Comment set. Line numbers
// (N words) and checksums (*nn) are dropped.
func (p *Parser) ParseLine(line string) (*standalone.GCodeCommand, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}

	cmd := &standalone.GCodeCommand{
		Parameters: make(map[byte]float64),
	}

	if i := strings.IndexAny(line, ";("); i >= 0 {
		cmd.Comment = strings.TrimSpace(line[i:])
		line = line[:i]
	}
	if i := strings.IndexByte(line, '*'); i >= 0 {
		line = line[:i]
	}

	i := 0
	for i < len(line) {
		c := line[i]
		if c == ' ' || c == '\t' {
			i++
			continue
		}
		if !isLetter(c) {
			return nil, fmt.Errorf("unexpected %q in %q", c, line)
		}
		letter := toUpper(c)
		i++

		end := i
		for end < len(line) && isNumberByte(line[end]) {
			end++
		}
		word := line[i:end]
		i = end

		switch {
		case letter == 'N':
			continue
		case cmd.Type == 0 && (letter == 'G' || letter == 'M' || letter == 'T'):
			n, err := strconv.Atoi(word)
			if err != nil {
				return nil, fmt.Errorf("bad command number %c%s", letter, word)
			}
			cmd.Type = letter
			cmd.Number = n
		default:
			if word == "" {
				return nil, fmt.Errorf("parameter %c has no value", letter)
			}
			v, err := strconv.ParseFloat(word, 64)
			if err != nil {
				return nil, fmt.Errorf("bad value for %c: %q", letter, word)
			}
			cmd.Parameters[letter] = v
		}
	}

	if cmd.Type == 0 && len(cmd.Parameters) > 0 {
		return nil, fmt.Errorf("parameters without a command in %q", line)
	}
	return cmd, nil
}

func isNumberByte(c byte) bool {
	return (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '+'
}

// isLetter checks if a byte is a letter
func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// toUpper converts a byte to uppercase
func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
