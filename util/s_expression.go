// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Very basic S-expression reader, used for writing small graphs by
// hand.  Comments run from ';' to the end of the line.

package util

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/nikandfor/errors"
)

type SExpKindT int

const (
	SExpInt SExpKindT = iota
	SExpSymbol
	SExpList
)

type SExpT struct {
	Kind    SExpKindT
	Integer int
	Symbol  string
	List    []*SExpT
}

func (sexp *SExpT) String() string {
	switch sexp.Kind {
	case SExpInt:
		return fmt.Sprintf("%d", sexp.Integer)
	case SExpSymbol:
		return sexp.Symbol
	case SExpList:
		parts := Map((*SExpT).String, sexp.List)
		return "(" + strings.Join(parts, " ") + ")"
	}
	panic("bad S-expression")
}

// The symbol at the head of a list, or "" if there isn't one.

func (sexp *SExpT) Head() string {
	if sexp.Kind != SExpList || len(sexp.List) == 0 || sexp.List[0].Kind != SExpSymbol {
		return ""
	}
	return sexp.List[0].Symbol
}

// Reads all of the top-level forms in 'data'.

func ParseSExps(data string) ([]*SExpT, error) {
	reader := bufio.NewReader(strings.NewReader(data))
	result := []*SExpT{}
	depth := 0
	stack := []*SExpT{}
	for {
		token, err := nextToken(reader)
		if err != nil {
			return nil, err
		}
		switch token {
		case "":
			if depth != 0 {
				return nil, errors.New("unexpected end of input, %d unclosed lists", depth)
			}
			return result, nil
		case "(":
			list := &SExpT{Kind: SExpList}
			if depth == 0 {
				result = append(result, list)
			} else {
				top := stack[len(stack)-1]
				top.List = append(top.List, list)
			}
			stack = append(stack, list)
			depth += 1
		case ")":
			if depth == 0 {
				return nil, errors.New("unexpected ')'")
			}
			stack = stack[:len(stack)-1]
			depth -= 1
		default:
			atom := &SExpT{Kind: SExpSymbol, Symbol: token}
			if i, err := strconv.Atoi(token); err == nil {
				atom = &SExpT{Kind: SExpInt, Integer: i}
			}
			if depth == 0 {
				result = append(result, atom)
			} else {
				top := stack[len(stack)-1]
				top.List = append(top.List, atom)
			}
		}
	}
}

func ParseSExp(data string) (*SExpT, error) {
	all, err := ParseSExps(data)
	if err != nil {
		return nil, err
	}
	if len(all) != 1 {
		return nil, errors.New("expected one S-expression, found %d", len(all))
	}
	return all[0], nil
}

func nextToken(reader *bufio.Reader) (string, error) {
	var contents strings.Builder
	for {
		c, _, err := reader.ReadRune()
		if err == io.EOF {
			return contents.String(), nil
		} else if err != nil {
			return "", errors.Wrap(err, "read")
		}
		switch {
		case 0 < contents.Len():
			if !isSymbolConstituent(c) {
				_ = reader.UnreadRune()
				return contents.String(), nil
			}
			contents.WriteRune(c)
		case unicode.IsSpace(c):
		case c == ';':
			if _, err := reader.ReadString('\n'); err == io.EOF {
				return "", nil
			}
		case c == '(' || c == ')':
			return string(c), nil
		case isSymbolConstituent(c):
			contents.WriteRune(c)
		default:
			return "", errors.New("unrecognized s-expression character %q", c)
		}
	}
}

func isSymbolConstituent(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(":_*&-+<>=!.", r)
}
