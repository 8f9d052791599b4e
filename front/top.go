// Copyright 2024 Richard Kelsey. All rights reserved.
// See file LICENSE for notices and license.

// Loading Go code and converting it to IR via go/ssa.

package front

import (
	"context"
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/s48/dswp/ir"
)

// Parses and type checks a single self-contained file.  Imports are
// resolved by the default importer.

func BuildSource(ctx context.Context, fileName string, fileContents []byte) (*ir.ModuleT, error) {
	_, tr := tlog.SpawnFromContextAndWrap(ctx, "front: build source", "file", fileName)
	defer tr.Finish()

	fileSet := token.NewFileSet()
	// As recommended in the docs, we skip the old, pre-Generic
	// object resolution.
	file, err := parser.ParseFile(fileSet, fileName, fileContents, parser.SkipObjectResolution)
	if err != nil {
		return nil, errors.Wrap(err, "parse")
	}
	conf := &types.Config{Importer: importer.Default()}
	pkg := types.NewPackage(file.Name.Name, file.Name.Name)
	ssaPkg, _, err := ssautil.BuildPackage(conf, fileSet, pkg, []*ast.File{file}, ssa.SanityCheckFunctions)
	if err != nil {
		return nil, errors.Wrap(err, "type check")
	}
	module := ir.NewModule()
	ConvertPackage(ssaPkg, module)
	tr.Printw("converted", "funcs", len(module.Funcs))
	return module, nil
}

// Loads the packages matching 'patterns' relative to 'directory' and
// converts all of their functions into a single module.

func LoadPackages(ctx context.Context, directory string, patterns ...string) (*ir.ModuleT, error) {
	_, tr := tlog.SpawnFromContextAndWrap(ctx, "front: load packages", "dir", directory, "patterns", patterns)
	defer tr.Finish()

	mode := packages.NeedName |
		packages.NeedFiles |
		packages.NeedImports |
		packages.NeedDeps |
		packages.NeedTypes |
		packages.NeedSyntax |
		packages.NeedTypesInfo
	packageConf := &packages.Config{Mode: mode, Dir: directory, Context: ctx}
	loaded, err := packages.Load(packageConf, patterns...)
	if err != nil {
		return nil, errors.Wrap(err, "load")
	}
	if 0 < packages.PrintErrors(loaded) {
		return nil, errors.New("packages had errors")
	}
	program, ssaPkgs := ssautil.Packages(loaded, ssa.SanityCheckFunctions)
	program.Build()
	module := ir.NewModule()
	for _, ssaPkg := range ssaPkgs {
		if ssaPkg != nil {
			ConvertPackage(ssaPkg, module)
		}
	}
	tr.Printw("converted", "packages", len(ssaPkgs), "funcs", len(module.Funcs))
	return module, nil
}
