// Package deploy blocks promotion flows on environment deployments.
//
// When a flow hop lands on a branch that triggers an environment, the gate
// polls the latest deployment for every affected repository and only releases
// the flow once all of them report success. A failed deployment or an elapsed
// waiting window stops the promotion for those repositories.
package deploy
