package poi

import (
	"sort"
	"strings"
	"time"
	"unicode"
)

// Facility and sentinel identifiers. Unknown/unmapped sentinels never carry
// an SLA limit, so they can never be flagged as in deviation.
const (
	FacilityRRP     = "RRP"
	FacilityTLS     = "TLS"
	FacilityUnknown = "UNKNOWN"

	GroupUnmapped = "UNMAPPED"

	GroupFabrica    = "Fábrica"
	GroupTerminal   = "Terminal"
	GroupManutencao = "Manutenção"
	GroupPontoApoio = "Ponto Apoio"
)

// GroupRef identifies one (facility, group) pair with a configured SLA.
type GroupRef struct {
	Facility string
	Group    string
}

type mapping struct {
	facility string
	group    string
}

// Catalog resolves POI names to (facility, group) pairs and holds the SLA
// limit and dwell-window tables. Resolution never fails: unknown POIs degrade
// to sentinels so monitoring continues with incomplete configuration.
type Catalog struct {
	byKey    map[string]mapping
	limits   map[string]map[string]int
	windows  map[string]time.Duration
	fallback time.Duration
}

// poiGroups maps raw POI names to their operational group. Only groups with a
// defined SLA appear here; fueling and buffer POIs are intentionally absent.
var poiGroups = map[string]mapping{
	// TLS
	"Oficina Central JSL":      {FacilityTLS, GroupManutencao},
	"Carregamento Fabrica":     {FacilityTLS, GroupFabrica},
	"FILA DESCARGA APT":        {FacilityTLS, GroupTerminal},
	"Descarga TAP":             {FacilityTLS, GroupTerminal},
	"PA Celulose":              {FacilityTLS, GroupPontoApoio},
	"CEMAVI":                   {FacilityTLS, GroupManutencao},
	"JDIESEL":                  {FacilityTLS, GroupManutencao},
	"MONTANINI":                {FacilityTLS, GroupManutencao},
	"PB Lopes":                 {FacilityTLS, GroupManutencao},
	"PB LOPES SCANIA":          {FacilityTLS, GroupManutencao},
	"MS3 LAVA JATO":            {FacilityTLS, GroupManutencao},
	"ADEVAR":                   {FacilityTLS, GroupManutencao},
	"REBUCCI":                  {FacilityTLS, GroupManutencao},
	"FEISCAR":                  {FacilityTLS, GroupManutencao},
	"LM RADIADORES":            {FacilityTLS, GroupManutencao},
	"ALBINO":                   {FacilityTLS, GroupManutencao},
	"DIESELTRONIC":             {FacilityTLS, GroupManutencao},
	"Manutencao Celulose":      {FacilityTLS, GroupManutencao},

	// RRP
	"Descarga Inocencia":       {FacilityRRP, GroupTerminal},
	"Carregamento Fabrica RRP": {FacilityRRP, GroupFabrica},
	"Manutencao JSL RRP":       {FacilityRRP, GroupManutencao},
	"Oficina JSL":              {FacilityRRP, GroupManutencao},
	"Manutenção Geral JSL RRP": {FacilityRRP, GroupManutencao},
	"PA AGUA CLARA":            {FacilityRRP, GroupPontoApoio},
}

// Monitored POIs without an SLA group still need a facility for the
// unmapped-group path.
var facilityOnlyPOIs = map[string]string{
	"Buffer Frotas":            FacilityRRP,
	"Abastecimento Frotas RRP": FacilityRRP,
	"Posto Mutum":              FacilityRRP,
	"Agua Clara":               FacilityRRP,

	"AREA EXTERNA SUZANO":      FacilityTLS,
	"POSTO DE ABASTECIMENTO":   FacilityTLS,
	"Fila abastecimento posto": FacilityTLS,
	"SELVIRIA":                 FacilityTLS,
}

// NewCatalog builds a catalog with the default SLA limits and dwell windows.
func NewCatalog() *Catalog {
	c := &Catalog{
		byKey: make(map[string]mapping, len(poiGroups)+len(facilityOnlyPOIs)),
		limits: map[string]map[string]int{
			FacilityRRP: {
				GroupFabrica:    6,
				GroupTerminal:   12,
				GroupManutencao: 12,
				GroupPontoApoio: 6,
			},
			FacilityTLS: {
				GroupFabrica:    5,
				GroupTerminal:   5,
				GroupManutencao: 10,
				GroupPontoApoio: 5,
			},
		},
		windows: map[string]time.Duration{
			GroupTerminal:   24 * time.Hour,
			GroupFabrica:    24 * time.Hour,
			GroupPontoApoio: 24 * time.Hour,
			GroupManutencao: 72 * time.Hour,
		},
		fallback: 24 * time.Hour,
	}

	for name, m := range poiGroups {
		c.byKey[NormalizePOIKey(name)] = m
	}
	for name, facility := range facilityOnlyPOIs {
		key := NormalizePOIKey(name)
		if _, ok := c.byKey[key]; !ok {
			c.byKey[key] = mapping{facility: facility, group: GroupUnmapped}
		}
	}

	return c
}

// NormalizePOIKey produces the canonical lookup key for a POI name. Upstream
// encoding issues corrupt diacritics into bytes like "¿", so the key keeps
// only ASCII letters and digits, uppercased. "Manuten¿¿o Geral JSL RRP" and
// "Manutenção Geral JSL RRP" normalize to the same key.
func NormalizePOIKey(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r > unicode.MaxASCII {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// NormalizeGroupKey strips whitespace and punctuation artifacts from a group
// name for use in alert ids and state keys. Diacritics are preserved:
// "Ponto Apoio" -> "PontoApoio", "Fábrica" -> "Fábrica".
func NormalizeGroupKey(group string) string {
	var b strings.Builder
	for _, r := range group {
		if unicode.IsSpace(r) {
			continue
		}
		switch r {
		case '¿', '?', '-', '.', '/', '\\', '(', ')', '[', ']':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Resolve maps a POI name to its (facility, group) pair. Unknown POIs map to
// the UNMAPPED group with the facility taken from the allow-lists, or to
// (UNKNOWN, UNMAPPED) when the POI is not monitored at all.
func (c *Catalog) Resolve(poiName string) (string, string) {
	// Known corrupted variant seen in production feeds.
	if strings.Contains(poiName, "Manuten") && strings.Contains(poiName, "Geral JSL RRP") {
		return FacilityRRP, GroupManutencao
	}

	if m, ok := c.byKey[NormalizePOIKey(poiName)]; ok {
		return m.facility, m.group
	}
	return FacilityUnknown, GroupUnmapped
}

// IsMonitored reports whether the POI belongs to either facility's allow-list.
func (c *Catalog) IsMonitored(poiName string) bool {
	facility, _ := c.Resolve(poiName)
	return facility != FacilityUnknown
}

// LimitFor returns the SLA limit for a (facility, group) pair, or nil when no
// limit is configured. UNMAPPED/UNKNOWN always yield nil.
func (c *Catalog) LimitFor(facility, group string) *int {
	groups, ok := c.limits[facility]
	if !ok {
		return nil
	}
	limit, ok := groups[group]
	if !ok {
		return nil
	}
	return &limit
}

// SetLimit overrides the SLA limit for a (facility, group) pair.
func (c *Catalog) SetLimit(facility, group string, limit int) {
	if _, ok := c.limits[facility]; !ok {
		c.limits[facility] = make(map[string]int)
	}
	c.limits[facility][group] = limit
}

// DwellWindow returns how far back an entry may lie before the session is
// considered stale for the group. Maintenance stays are allowed to run days;
// everything else a single day.
func (c *Catalog) DwellWindow(group string) time.Duration {
	if w, ok := c.windows[group]; ok {
		return w
	}
	return c.fallback
}

// ConfiguredGroups returns every (facility, group) pair with an SLA limit in
// deterministic order. The aggregator uses this to emit zero-count snapshots
// so that a group emptying out still resets its escalation state.
func (c *Catalog) ConfiguredGroups() []GroupRef {
	refs := make([]GroupRef, 0, 8)
	for facility, groups := range c.limits {
		for group := range groups {
			refs = append(refs, GroupRef{Facility: facility, Group: group})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Facility != refs[j].Facility {
			return refs[i].Facility < refs[j].Facility
		}
		return refs[i].Group < refs[j].Group
	})
	return refs
}
