// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Pretty-printer for IR functions.

package ir

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
)

func PpFunc(fn *FuncT) {
	Fprint(os.Stdout, fn)
}

func Sprint(fn *FuncT) string {
	buf := new(bytes.Buffer)
	Fprint(buf, fn)
	return buf.String()
}

func SprintModule(module *ModuleT) string {
	buf := new(bytes.Buffer)
	for _, global := range module.Globals {
		fmt.Fprintf(buf, "var %s %s = %v\n", global, global.Elem, global.Init)
	}
	for _, fn := range module.Funcs {
		buf.WriteString("\n")
		Fprint(buf, fn)
	}
	return buf.String()
}

func Fprint(out io.Writer, fn *FuncT) {
	writer := MakePpWriter(out)
	fmt.Fprintf(writer, "func %s(", fn.Name)
	for i, param := range fn.Params {
		if 0 < i {
			fmt.Fprintf(writer, ", ")
		}
		fmt.Fprintf(writer, "%s %s", param, param.Typ)
	}
	fmt.Fprintf(writer, ")")
	if 0 < len(fn.Results) {
		fmt.Fprintf(writer, " %v", fn.Results)
	}
	writer.Newline()
	for _, block := range fn.Blocks {
		fmt.Fprintf(writer, "  %s:", block)
		if 0 < len(block.Preds) {
			writer.IndentTo(40)
			fmt.Fprintf(writer, "; preds %s", blockNames(block.Preds))
		}
		writer.Newline()
		for _, instr := range block.Instrs {
			writer.IndentTo(4)
			fmt.Fprintf(writer, "%s", InstrString(instr))
			writer.Newline()
		}
	}
}

func blockNames(blocks []*BlockT) string {
	names := make([]string, len(blocks))
	for i, block := range blocks {
		names[i] = block.String()
	}
	return strings.Join(names, " ")
}

func valueNames(values []ValueT) string {
	names := make([]string, len(values))
	for i, value := range values {
		if value == nil {
			names[i] = "{nil}"
		} else {
			names[i] = value.String()
		}
	}
	return strings.Join(names, ", ")
}

// Prints an instruction on a single line.

func InstrString(instr *InstrT) string {
	buf := new(bytes.Buffer)
	if instr.HasValue() {
		fmt.Fprintf(buf, "%s = ", instr)
	}
	ops := instr.Operands
	switch instr.Op {
	case OpPhi:
		fmt.Fprintf(buf, "phi")
		for i, edge := range instr.Edges {
			if 0 < i {
				fmt.Fprintf(buf, ",")
			}
			fmt.Fprintf(buf, " [%s: %s]", edge, valueNames(ops[i:i+1]))
		}
	case OpBinop, OpCompare:
		fmt.Fprintf(buf, "%s %s %s", ops[0], instr.Token, ops[1])
	case OpUnop:
		fmt.Fprintf(buf, "%s%s", instr.Token, ops[0])
	case OpConvert:
		fmt.Fprintf(buf, "convert %s", ops[0])
	case OpAlloca:
		fmt.Fprintf(buf, "alloca %d", instr.Count)
	case OpCall:
		fmt.Fprintf(buf, "call %s(%s)", instr.Callee, valueNames(ops))
	case OpIf:
		fmt.Fprintf(buf, "if %s %s %s", ops[0], instr.Targets[0], instr.Targets[1])
	case OpJump:
		fmt.Fprintf(buf, "jump %s", instr.Targets[0])
	case OpSwitch:
		fmt.Fprintf(buf, "switch %s default %s", ops[0], instr.Targets[0])
		for i, c := range instr.Cases {
			fmt.Fprintf(buf, " %d:%s", c, instr.Targets[i+1])
		}
	default:
		fmt.Fprintf(buf, "%s %s", instr.Op, valueNames(ops))
	}
	if instr.HasValue() {
		fmt.Fprintf(buf, " : %s", instr.Typ)
	}
	return buf.String()
}

//----------------------------------------------------------------
// An io.Writer that keeps track of the current column.

type PpWriterT struct {
	writer io.Writer
	Column int
}

func MakePpWriter(writer io.Writer) *PpWriterT {
	return &PpWriterT{writer: writer, Column: 0}
}

func (writer *PpWriterT) Write(p []byte) (n int, err error) {
	for _, b := range p {
		if b == '\n' {
			writer.Column = 0
		} else {
			writer.Column += 1
		}
	}
	return writer.writer.Write(p)
}

func (writer *PpWriterT) Newline() {
	writer.Column = 0
	writer.writer.Write([]byte("\n"))
}

func (writer *PpWriterT) IndentTo(column int) {
	if writer.Column == column {
		return
	}
	count := column
	if writer.Column < column {
		count -= writer.Column
	} else {
		writer.Newline()
	}
	writer.writer.Write([]byte(strings.Repeat(" ", count)))
	writer.Column += count
}
