// Sweepctl is the operator CLI for the retention sweeper.
//
// It works directly against the sweeper database and the X API, so it can be
// used while the daemon is stopped or to run one-off sweeps by hand.
//
// Usage:
//
//	# List linked accounts
//	sweepctl accounts list
//
//	# Link accounts from a seed file
//	sweepctl accounts import accounts.yaml
//
//	# Enable retention with a 48 hour window
//	sweepctl accounts set-hours 123456 48
//	sweepctl accounts enable 123456
//
//	# Sweep one account, or the whole fleet
//	sweepctl sweep account 123456
//	sweepctl sweep fleet
//
//	# Show sweep history and prune it
//	sweepctl runs 123456 --limit 20
//	sweepctl prune --horizon 720h
package main

func main() {
	Execute()
}
