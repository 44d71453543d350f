package user_agent

import (
	_ "embed"
	"fmt"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// Labels returned when nothing matches.
const (
	DeviceUnknown = "unknown"
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	Other         = "Other"
)

type UserAgent struct {
	UserAgent string
	OS        string
	Browser   string
	Device    string
}

//go:embed rules.yml
var defaultRules []byte

// Rule maps a pattern to the label it produces.
type Rule struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

type ruleFile struct {
	Device  []Rule `yaml:"device"`
	Browser []Rule `yaml:"browser"`
	OS      []Rule `yaml:"os"`
}

type compiledRule struct {
	name  string
	regex *pcre.Regexp
}

// Parser classifies user agents against ordered rule tables.
type Parser struct {
	devices  []compiledRule
	browsers []compiledRule
	oss      []compiledRule
}

var (
	parser    *Parser
	parserErr error
	once      sync.Once
)

// NewParser compiles a YAML rule document.
func NewParser(data []byte) (*Parser, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse user agent rules: %w", err)
	}

	p := &Parser{}
	var err error
	if p.devices, err = compileRules("device", rf.Device); err != nil {
		return nil, err
	}
	if p.browsers, err = compileRules("browser", rf.Browser); err != nil {
		return nil, err
	}
	if p.oss, err = compileRules("os", rf.OS); err != nil {
		return nil, err
	}
	return p, nil
}

func compileRules(section string, rules []Rule) ([]compiledRule, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		regex, err := pcre.Compile(r.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid %s rule %q: %w", section, r.Name, err)
		}
		compiled = append(compiled, compiledRule{name: r.Name, regex: regex})
	}
	return compiled, nil
}

func getParser() *Parser {
	once.Do(func() {
		parser, parserErr = NewParser(defaultRules)
	})
	if parserErr != nil {
		panic(fmt.Sprintf("user_agent: embedded rules are invalid: %v", parserErr))
	}
	return parser
}

func firstMatch(rules []compiledRule, userAgent, fallback string) string {
	for _, r := range rules {
		if r.regex.MatchString(userAgent) {
			return r.name
		}
	}
	return fallback
}

// Parse classifies a user agent. An empty string yields unknown/Other labels.
func (p *Parser) Parse(userAgent string) UserAgent {
	if userAgent == "" {
		return UserAgent{OS: Other, Browser: Other, Device: DeviceUnknown}
	}
	return UserAgent{
		UserAgent: userAgent,
		OS:        firstMatch(p.oss, userAgent, Other),
		Browser:   firstMatch(p.browsers, userAgent, Other),
		Device:    firstMatch(p.devices, userAgent, DeviceDesktop),
	}
}

// ParseUserAgent classifies a user agent with the embedded rule set.
func ParseUserAgent(userAgent string) UserAgent {
	return getParser().Parse(userAgent)
}
