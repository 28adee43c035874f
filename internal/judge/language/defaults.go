package language

import "codejudge/internal/judge/sandbox/spec"

var (
	defaultRunLimits = spec.ResourceLimit{
		CPUTimeMs:  2000,
		WallTimeMs: 2000,
		MemoryMB:   256,
		StackMB:    64,
		OutputMB:   16,
		PIDs:       16,
	}
	defaultCompileLimits = spec.ResourceLimit{
		CPUTimeMs:  10000,
		WallTimeMs: 20000,
		MemoryMB:   1024,
		StackMB:    64,
		OutputMB:   64,
		PIDs:       64,
	}
)

// DefaultSpecs returns the built-in adapters used when the config lists none.
func DefaultSpecs() []Spec {
	return []Spec{
		{
			ID:             "javascript",
			Name:           "JavaScript",
			Version:        "node 20",
			Aliases:        []string{"js", "node", "nodejs"},
			SourceFile:     "main.js",
			CheckCmdTpl:    "node --check {src}",
			RunCmdTpl:      "node {src}",
			TimeMultiplier: 1.5,
			DefaultLimits:  defaultRunLimits.Merge(spec.ResourceLimit{PIDs: 32}),
			CompileLimits:  defaultCompileLimits,
			Image:          "node:20-alpine",
		},
		{
			ID:             "python",
			Name:           "Python",
			Version:        "3.12",
			Aliases:        []string{"py", "python3"},
			SourceFile:     "main.py",
			CheckCmdTpl:    "python3 -m py_compile {src}",
			RunCmdTpl:      "python3 -u {src}",
			Env:            []string{"PATH=/usr/local/bin:/usr/bin:/bin", "PYTHONDONTWRITEBYTECODE=1"},
			TimeMultiplier: 2,
			DefaultLimits:  defaultRunLimits,
			CompileLimits:  defaultCompileLimits,
			Image:          "python:3.12-slim",
		},
		{
			ID:               "java",
			Name:             "Java",
			Version:          "21",
			SourceFile:       "Main.java",
			CompileEnabled:   true,
			CompileCmdTpl:    "javac -encoding UTF-8 -d {workdir} {src}",
			RunCmdTpl:        "java -Xss64m -XX:+UseSerialGC -cp {workdir} Main",
			TimeMultiplier:   1.5,
			MemoryMultiplier: 2,
			DefaultLimits:    defaultRunLimits.Merge(spec.ResourceLimit{PIDs: 64}),
			CompileLimits:    defaultCompileLimits,
			Image:            "eclipse-temurin:21-jdk",
		},
		{
			ID:             "cpp",
			Name:           "C++",
			Version:        "g++ c++17",
			Aliases:        []string{"c++", "cxx", "cpp17"},
			SourceFile:     "main.cpp",
			BinaryFile:     "main",
			CompileEnabled: true,
			CompileCmdTpl:  "g++ -O2 -std=c++17 -pipe -o {bin} {src}",
			RunCmdTpl:      "{bin}",
			DefaultLimits:  defaultRunLimits,
			CompileLimits:  defaultCompileLimits,
			Image:          "gcc:13",
		},
		{
			ID:             "c",
			Name:           "C",
			Version:        "gcc c11",
			SourceFile:     "main.c",
			BinaryFile:     "main",
			CompileEnabled: true,
			CompileCmdTpl:  "gcc -O2 -std=c11 -pipe -o {bin} {src} -lm",
			RunCmdTpl:      "{bin}",
			DefaultLimits:  defaultRunLimits,
			CompileLimits:  defaultCompileLimits,
			Image:          "gcc:13",
		},
		{
			ID:             "go",
			Name:           "Go",
			Version:        "1.22",
			Aliases:        []string{"golang"},
			SourceFile:     "main.go",
			BinaryFile:     "main",
			CompileEnabled: true,
			CompileCmdTpl:  "go build -o {bin} {src}",
			RunCmdTpl:      "{bin}",
			Env:            []string{"PATH=/usr/local/go/bin:/usr/bin:/bin", "HOME=/tmp", "GOCACHE=/tmp/gocache", "GOPATH=/tmp/gopath", "CGO_ENABLED=0"},
			DefaultLimits:  defaultRunLimits.Merge(spec.ResourceLimit{PIDs: 32}),
			CompileLimits:  defaultCompileLimits.Merge(spec.ResourceLimit{WallTimeMs: 60000, CPUTimeMs: 30000, PIDs: 128}),
			Image:          "golang:1.22-alpine",
		},
	}
}
