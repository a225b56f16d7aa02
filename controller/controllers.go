// api/controller/controllers.go
package controller

// Controllers bundles the API controllers for route registration.
type Controllers struct {
	Policy *PolicyController
	Stats  *StatsController
}
