// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Id int

const (
	VersionNotFoundId Id = iota + 1
	ArtifactNotFoundId
	MetadataUnavailableId
	MalformedBundleListId
	EntryNotFoundId
	ExtractionFailedId
	RuleDefinitionInvalidId
	RulesNotConvergedId
	ConfigLoadFailedId
	ManifestInvalidId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink  // must never be empty, because we need to have docs about all issue types
	extLinks []HttpLink  // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n"
		extraMd += "## See also: "
		for _, link := range i.docLinks {
			extraMd += "- [" + string(link) + "]"
		}
		for _, link := range i.extLinks {
			extraMd += "- [" + string(link) + "]"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	versionNotFoundIssue = &Issue{
		id: VersionNotFoundId,
		mdMsg: `
# No version satisfies the requirement!

The registries advertise versions for this package, but none of them falls
inside the requested range.

## Things you can try:
- Check the advertised versions listed in the error message
- Widen the range in your manifest or bundle list:
~~~cue
version: "[1.0,3.0)"
~~~

- Pin an exact version that you know exists:
~~~cue
version: "1.2.0"
~~~

- Verify you are pointing at the right registries:
~~~
$ launchkit config show
~~~`,
	}

	artifactNotFoundIssue = &Issue{
		id: ArtifactNotFoundId,
		mdMsg: `
# Artifact not found!

The artifact was not in the local cache and none of the configured registries
could serve it.

## Things you can try:
- Check the coordinate for typos (namespace, name, version, type, classifier)
- List the registries that were tried in the error message above
- Verify the registry URLs in your configuration:
~~~
$ launchkit config show
~~~

- If you expect a cache hit, confirm the cache location:
~~~
$ echo $LAUNCHKIT_CACHE_PATH
~~~

- Resolve the coordinate directly to see what happens:
~~~
$ launchkit resolve com.example:feature:1.4.2
~~~`,
	}

	metadataUnavailableIssue = &Issue{
		id: MetadataUnavailableId,
		mdMsg: `
# Registry metadata unavailable!

A version range can only be resolved when at least one registry serves
version metadata (index.json) for the package. Every configured registry
failed to produce it.

## Common causes:
- Registry is unreachable (network, DNS, proxy)
- The package has never been published to these registries
- The registry serves artifacts but no index.json

## Things you can try:
- Check connectivity to the registry base URLs
- Pin an exact version to skip metadata resolution entirely:
~~~cue
version: "1.2.0"
~~~

- Add a registry that carries the package:
~~~
$ launchkit config set registries https://registry.example.com/bundles
~~~`,
	}

	malformedBundleListIssue = &Issue{
		id: MalformedBundleListId,
		mdMsg: `
# Malformed bundle list!

A bundle-list document failed to parse or validate. The assembly stops here:
a broken list is never silently skipped or partially applied.

## Common issues:
- Invalid CUE syntax (missing quotes, braces, commas)
- Missing required fields (namespace, name, version)
- A version string that is neither an exact version nor a range

## Things you can try:
- Check the error message above for the file and field
- Validate inputs without resolving anything:
~~~
$ launchkit validate
~~~

## Example of a valid bundle list:
~~~cue
bundles: [
	{
		namespace: "org.example"
		name:      "core"
		version:   "1.2.0"
	},
	{
		namespace:      "org.example"
		name:           "metrics"
		version:        "[3.0,4.0)"
		start_priority: 20
		run_modes: ["prod"]
	},
]
~~~`,
	}

	entryNotFoundIssue = &Issue{
		id: EntryNotFoundId,
		mdMsg: `
# Bundle entry not found!

A strict removal targeted an entry that is not present in the list.

## Things you can try:
- Check the namespace, name, and classifier of the exclusion
- List the assembled entries to see what is actually present:
~~~
$ launchkit list
~~~

- Make the exclusion tolerant when absence is expected:
~~~cue
exclusions: [
	{namespace: "org.example", name: "legacy-auth", fail_if_absent: false},
]
~~~

Note that partial lists are merged *after* project exclusions, so an entry
you excluded can legitimately come back through a partial list.`,
	}

	extractionFailedIssue = &Issue{
		id: ExtractionFailedId,
		mdMsg: `
# Configuration payload extraction failed!

A configuration payload archive could not be extracted. This is fatal: a
partially applied configuration overlay would be worse than none.

## Common causes:
- Corrupt or truncated download
- The artifact is not actually a zip archive
- An archive entry tries to escape the extraction directory

## Things you can try:
- Delete the cached artifact and resolve it again:
~~~
$ rm -r ~/.launchkit/cache/<namespace>/<name>/<version>
$ launchkit assemble
~~~

- Inspect the archive manually:
~~~
$ unzip -l <cached-file>
~~~`,
	}

	ruleDefinitionInvalidIssue = &Issue{
		id: RuleDefinitionInvalidId,
		mdMsg: `
# Invalid rule definition!

A rewrite rule file failed to parse or a rule is malformed. No rule from the
set was applied: rules fire all-or-nothing.

## Rule requirements:
- Exactly one action per rule: ` + "`set`" + `, ` + "`remove`" + `, or ` + "`add`" + `
- ` + "`set`" + ` and ` + "`remove`" + ` rules need a ` + "`when`" + ` expression
- ` + "`add`" + ` rules carry a complete entry and no ` + "`when`" + `
- ` + "`when`" + ` may reference ` + "`entry`" + `, ` + "`project`" + `, and ` + "`session`" + `

## Example of a valid rule file:
~~~hcl
rule "pin-logging" {
	when = entry.namespace == "org.example" && entry.name == "logkit"

	set {
		version = "2.0.0"
	}
}

rule "drop-debug-tools" {
	when   = contains(entry.run_modes, "debug")
	remove = true
}
~~~

## Things you can try:
- Check the file and rule named in the error message
- Validate rule files without assembling:
~~~
$ launchkit validate
~~~`,
	}

	rulesNotConvergedIssue = &Issue{
		id: RulesNotConvergedId,
		mdMsg: `
# Rule evaluation did not converge!

The rule set kept changing the bundle list pass after pass and hit the pass
cap. This almost always means two or more rules keep undoing each other's
changes.

## Example of a non-converging pair:
~~~hcl
rule "pin-up" {
	when = entry.name == "core" && entry.version == "1.0.0"
	set { version = "2.0.0" }
}

rule "pin-down" {
	when = entry.name == "core" && entry.version == "2.0.0"
	set { version = "1.0.0" }  # undoes pin-up, forever
}
~~~

## Things you can try:
- Look for rules whose actions re-trigger another rule's condition
- Make conditions mutually exclusive
- Use priorities so one rule settles the matter:
~~~hcl
rule "final-pin" {
	priority = 100
	...
}
~~~`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Could not load the launchkit configuration file.

## Configuration file locations:
- Linux: ~/.config/launchkit/config.cue
- macOS: ~/Library/Application Support/launchkit/config.cue
- Windows: %APPDATA%\launchkit\config.cue

## Things you can try:
- Create a default configuration:
~~~
$ launchkit config init
~~~

- Check the configuration syntax
- Remove the config file to use defaults:
~~~
$ rm ~/.config/launchkit/config.cue
~~~

## Example configuration:
~~~cue
registries: [
	"https://registry.example.com/bundles",
]
cache_dir: "/var/cache/launchkit"

ui: {
	color_scheme: "auto"
	verbose: false
}
~~~`,
	}

	manifestInvalidIssue = &Issue{
		id: ManifestInvalidId,
		mdMsg: `
# Invalid project manifest!

Your launchkit.cue manifest failed schema validation or carries a malformed
coordinate.

## Common issues:
- Missing project identity (namespace, name, version)
- A dependency coordinate that does not parse as
  namespace:name:version[:type[:classifier]]
- An unknown packaging type (valid: bundle, partial, config)

## Things you can try:
- Check the error message above for the field
- Validate the manifest without resolving anything:
~~~
$ launchkit validate
~~~

## Minimal valid manifest:
~~~cue
project: {
	namespace: "com.example"
	name:      "storefront"
	version:   "2.1.0"
}
~~~`,
	}

	issues = map[Id]*Issue{
		versionNotFoundIssue.Id():       versionNotFoundIssue,
		artifactNotFoundIssue.Id():      artifactNotFoundIssue,
		metadataUnavailableIssue.Id():   metadataUnavailableIssue,
		malformedBundleListIssue.Id():   malformedBundleListIssue,
		entryNotFoundIssue.Id():         entryNotFoundIssue,
		extractionFailedIssue.Id():      extractionFailedIssue,
		ruleDefinitionInvalidIssue.Id(): ruleDefinitionInvalidIssue,
		rulesNotConvergedIssue.Id():     rulesNotConvergedIssue,
		configLoadFailedIssue.Id():      configLoadFailedIssue,
		manifestInvalidIssue.Id():       manifestInvalidIssue,
	}
)

func Values() []*Issue {
	return maps.Values(issues)
}

func Get(id Id) *Issue {
	return issues[id]
}
