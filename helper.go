package divert

import (
	"github.com/pkg/errors"
)

// CompileFilter compiles filter for layer into the object form OpenFilter
// and EvalFilter accept. A syntax error is reported as *InvalidFilterError.
func CompileFilter(filter string, layer Layer) ([]byte, error) {
	if filter == "" {
		return nil, invalidArgument("filter", "empty filter")
	}
	obj, err := lib.CompileFilter(filter, layer)
	if err != nil {
		var fe *InvalidFilterError
		if errors.As(err, &fe) {
			fe.Filter = filter
			return nil, errors.WithStack(fe)
		}
		return nil, opError("WinDivertHelperCompileFilter", err)
	}
	return obj, nil
}

// FormatFilter renders a compiled filter object back to its text form.
func FormatFilter(filter []byte, layer Layer) (string, error) {
	if len(filter) == 0 {
		return "", invalidArgument("filter", "empty filter object")
	}
	s, err := lib.FormatFilter(filter, layer)
	if err != nil {
		return "", opError("WinDivertHelperFormatFilter", err)
	}
	return s, nil
}

// EvalFilter reports whether packet with metadata addr matches the compiled
// filter.
func EvalFilter(filter []byte, packet []byte, addr *Address) (bool, error) {
	if len(filter) == 0 {
		return false, invalidArgument("filter", "empty filter object")
	} else if addr == nil {
		return false, invalidArgument("addr", "nil address")
	}
	ok, err := lib.EvalFilter(filter, packet, addr)
	if err != nil {
		return false, opError("WinDivertHelperEvalFilter", err)
	}
	return ok, nil
}

// CalcChecksums recomputes the checksums of packet in place, flags selects
// the ones left untouched. addr may be nil; when given its checksum flags
// are updated.
func CalcChecksums(packet []byte, addr *Address, flags ChecksumFlag) error {
	if err := lib.CalcChecksums(packet, addr, flags); err != nil {
		return opError("WinDivertHelperCalcChecksums", err)
	}
	return nil
}
