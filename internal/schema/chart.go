package schema

// markers collects what a scan of the mappings found.
type markers struct {
	time         bool
	numeric      bool
	numericArray bool
}

// IsChartWorthy reports whether a result schema looks like time-series data.
//
// The mappings of every entry are scanned together, so a time column in one
// entry and a numeric column in another both count. A result is chart-worthy
// when it has a time column and a numeric column, or when it has an array of
// numbers on its own: grouped timeseries encode the time bucket as the array
// index instead of a separate column.
func IsChartWorthy(types []RangedFieldTypes) bool {
	m := scan(types)
	return (m.time && m.numeric) || m.numericArray
}

func scan(types []RangedFieldTypes) markers {
	var m markers
	for _, entry := range types {
		for _, ft := range entry.Mappings {
			switch ft.Type {
			case KindTimeframe, KindTimestamp:
				m.time = true
			case KindDouble, KindLong:
				m.numeric = true
			case KindArray:
				if isNumericArray(ft) {
					m.numeric = true
					m.numericArray = true
				}
			case KindRecord:
				if hasNumeric(ft.Types) {
					m.numeric = true
				}
			case KindString, KindBoolean, KindDuration, KindIPAddress, KindUID, KindBinary, KindUndefined:
				// not a marker
			default:
				// unknown kinds are not markers
			}
		}
	}
	return m
}

// isNumericArray reports whether ft is an array whose elements are numbers,
// looking through nested arrays.
func isNumericArray(ft FieldType) bool {
	elem, ok := ft.Element()
	if !ok {
		return false
	}
	switch elem.Type {
	case KindDouble, KindLong:
		return true
	case KindArray:
		return isNumericArray(elem)
	default:
		return false
	}
}

// hasNumeric applies the numeric-marker test to the fields of a record.
func hasNumeric(types []RangedFieldTypes) bool {
	for _, entry := range types {
		for _, ft := range entry.Mappings {
			switch ft.Type {
			case KindDouble, KindLong:
				return true
			case KindArray:
				if isNumericArray(ft) {
					return true
				}
			case KindRecord:
				if hasNumeric(ft.Types) {
					return true
				}
			}
		}
	}
	return false
}
