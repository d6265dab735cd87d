package mapjoin

import (
	"fmt"

	"github.com/pickme-go/errors"
	"github.com/pickme-go/mapjoin/env"
	mjErrors "github.com/pickme-go/mapjoin/errors"
)

// CheckEnvironment fails with UnsupportedExecutionEnvironment unless e can broadcast
// side inputs. It reads nothing but e.
func CheckEnvironment(e env.Environment, op string) error {
	if e == nil {
		return mjErrors.New(mjErrors.UnsupportedExecutionEnvironment, op,
			errors.New(fmt.Sprintf(`%s requires %s but no execution environment was given`, op, env.Broadcast)))
	}

	if !e.Supports(env.Broadcast) || e.Broadcasts() == nil {
		return mjErrors.New(mjErrors.UnsupportedExecutionEnvironment, op,
			errors.New(fmt.Sprintf(`%s requires %s which the [%s] environment does not support`, op, env.Broadcast, e.Name())))
	}

	return nil
}
