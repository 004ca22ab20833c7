package bundle

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/SanteonNL/termrepo/cmd/termrepo/cascade"
	"github.com/SanteonNL/termrepo/util"
)

const (
	ParamMethod           = "method"
	ParamCascadeLevels    = "cascadeLevels"
	ParamCascadeMappings  = "cascadeMappings"
	ParamCascadeHierarchy = "cascadeHierarchy"
	ParamMapTypes         = "mapTypes"
	ParamExcludeMapTypes  = "excludeMapTypes"
	ParamIncludeMappings  = "includeMappings"
	ParamVerbose          = "verbose"
	ParamBrief            = "brief"
	ParamCount            = "_count"
	ParamOffset           = "_offset"
)

// ParamsFromQuery reads the cascade options of a request. Parameters that
// are absent keep their defaults; flags are true only for "true".
func ParamsFromQuery(query url.Values) (cascade.Params, error) {
	params := cascade.DefaultParams()

	if query.Has(ParamMethod) {
		method, err := cascade.ParseMethod(query.Get(ParamMethod))
		if err != nil {
			return params, err
		}
		params.Method = method
	}
	if query.Has(ParamCascadeLevels) {
		levels, err := cascade.ParseLevels(query.Get(ParamCascadeLevels))
		if err != nil {
			return params, err
		}
		params.Levels = levels
	}
	if query.Has(ParamCascadeMappings) {
		params.CascadeMappings = isTrue(query.Get(ParamCascadeMappings))
	}
	if query.Has(ParamCascadeHierarchy) {
		params.CascadeHierarchy = isTrue(query.Get(ParamCascadeHierarchy))
	}
	if query.Has(ParamIncludeMappings) {
		params.IncludeMappings = isTrue(query.Get(ParamIncludeMappings))
	}
	params.Criteria = cascade.MappingsCriteria{
		MapTypes:        util.SplitCSV(query.Get(ParamMapTypes)),
		ExcludeMapTypes: util.SplitCSV(query.Get(ParamExcludeMapTypes)),
	}
	return params, nil
}

// IsVerbose reports whether full projections were requested. Brief wins.
func IsVerbose(query url.Values) bool {
	if isTrue(query.Get(ParamBrief)) {
		return false
	}
	return isTrue(query.Get(ParamVerbose))
}

// PageFromQuery reads _count and _offset. A missing _count means no paging.
func PageFromQuery(query url.Values) (count, offset int, err error) {
	if v := query.Get(ParamCount); v != "" {
		if count, err = strconv.Atoi(v); err != nil || count < 0 {
			return 0, 0, fmt.Errorf("invalid %s %q", ParamCount, v)
		}
	}
	if v := query.Get(ParamOffset); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid %s %q", ParamOffset, v)
		}
	}
	return count, offset, nil
}

// cacheKey identifies a cascade result set independent of paging.
func cacheKey(params cascade.Params, verbose bool) string {
	return strings.Join([]string{
		string(params.Method),
		params.Levels.String(),
		strconv.FormatBool(params.CascadeMappings),
		strconv.FormatBool(params.CascadeHierarchy),
		strconv.FormatBool(params.IncludeMappings),
		strings.Join(params.Criteria.MapTypes, ","),
		strings.Join(params.Criteria.ExcludeMapTypes, ","),
		strconv.FormatBool(verbose),
	}, "|")
}

func isTrue(value string) bool {
	return strings.EqualFold(strings.TrimSpace(value), "true")
}
