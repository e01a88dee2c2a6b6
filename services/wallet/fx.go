package wallet

import (
	"go.uber.org/fx"
)

// Module wires the HTTP surface; Worker wires the queue consumer. The two
// run in different binaries.
var Module = fx.Module("wallet.service",
	fx.Provide(NewService),
	fx.Invoke(registerRoutes),
)

var Worker = fx.Module("wallet.worker",
	fx.Provide(NewService),
	fx.Invoke(registerTasks),
)
