package provisioner

import "strings"

// UpgradeInfo is the structured detail extracted from an upstream error that
// demands a version upgrade.
type UpgradeInfo struct {
	Package   string
	AgentType string
}

const upgradeMarker = "npm install -g "

// DetectUpgradeError looks for the substring "npm install -g " anywhere in
// text (including nested JSON) and, if followed by a version-qualified
// package specifier, extracts {package, agent_type}. Scoped packages
// (@scope/name@version) require a second "@"; unscoped packages
// (name@version) require just one. Returns ok=false if no version-qualified
// specifier follows the marker.
func DetectUpgradeError(text string) (UpgradeInfo, bool) {
	idx := strings.Index(text, upgradeMarker)
	if idx < 0 {
		return UpgradeInfo{}, false
	}

	rest := text[idx+len(upgradeMarker):]
	spec := firstToken(rest)
	if spec == "" {
		return UpgradeInfo{}, false
	}

	pkg, ok := versionQualifiedPackage(spec)
	if !ok {
		return UpgradeInfo{}, false
	}

	return UpgradeInfo{Package: pkg, AgentType: pkg}, true
}

// firstToken returns the leading whitespace-delimited token of s.
func firstToken(s string) string {
	s = strings.TrimLeft(s, " \t")
	end := strings.IndexAny(s, " \t\n\r\"',")
	if end < 0 {
		return s
	}
	return s[:end]
}

// versionQualifiedPackage parses spec into its package name iff it carries a
// version qualifier: scoped packages need "@scope/name@version" (second
// "@"), unscoped need "name@version" (one "@").
func versionQualifiedPackage(spec string) (string, bool) {
	if spec == "" {
		return "", false
	}

	if strings.HasPrefix(spec, "@") {
		// @scope/name@version — the second '@' marks the version qualifier.
		second := strings.Index(spec[1:], "@")
		if second < 0 {
			return "", false
		}
		pkg := spec[:1+second]
		if !strings.Contains(pkg, "/") {
			return "", false
		}
		return pkg, true
	}

	at := strings.Index(spec, "@")
	if at <= 0 {
		return "", false
	}
	return spec[:at], true
}
