package generator

import (
	"strings"
)

// reservedBases are file names used for package level declarations.
var reservedBases = map[string]bool{"tables": true, "dbtx": true}

// Suffixes that go/build interprets as build constraints.
var (
	knownOS = map[string]bool{
		"aix": true, "android": true, "darwin": true, "dragonfly": true, "freebsd": true,
		"hurd": true, "illumos": true, "ios": true, "js": true, "linux": true, "nacl": true,
		"netbsd": true, "openbsd": true, "plan9": true, "solaris": true, "wasip1": true,
		"windows": true, "zos": true,
	}
	knownArch = map[string]bool{
		"386": true, "amd64": true, "amd64p32": true, "arm": true, "armbe": true, "arm64": true,
		"arm64be": true, "loong64": true, "mips": true, "mipsle": true, "mips64": true,
		"mips64le": true, "mips64p32": true, "mips64p32le": true, "ppc": true, "ppc64": true,
		"ppc64le": true, "riscv": true, "riscv64": true, "s390": true, "s390x": true,
		"sparc": true, "sparc64": true, "wasm": true,
	}
)

// fileBase returns the file name stem for a table. The stem is lower
// case, limited to [a-z0-9_] and never ends in a suffix that the go tool
// treats specially so that every generated file is compiled.
func fileBase(table string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(table) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	base := strings.TrimRight(b.String(), "_")
	if base == "" {
		return "table"
	}

	suffix := base[strings.LastIndexByte(base, '_')+1:]
	special := reservedBases[base] ||
		strings.Contains(base, "_") && (suffix == "test" || suffix == "record" || suffix == "dao" || knownOS[suffix] || knownArch[suffix])
	if special {
		base += "_table"
	}
	return base
}

// tableFiles returns the names of the files generated for a table.
func tableFiles(base string, gen Artifacts) (pojo, record, dao string) {
	if gen.POJOs {
		pojo = base + ".go"
	}
	if gen.Records {
		record = base + "_record.go"
	}
	if gen.DAOs {
		dao = base + "_dao.go"
	}
	return pojo, record, dao
}
