package tele

import (
	"expvar"
	"fmt"
)

type Stat struct {
	Published expvar.Int
	Errors    expvar.Int
	Connects  expvar.Int
	Lost      expvar.Int
}

// String is JSON, so Stat may be published with expvar.Publish.
func (s *Stat) String() string {
	return fmt.Sprintf(`{"published":%d,"errors":%d,"connects":%d,"lost":%d}`,
		s.Published.Value(), s.Errors.Value(), s.Connects.Value(), s.Lost.Value())
}
