// Package agents provides domain research agents. Each agent covers
// one scientific field; a Router decides which fields a query needs
// and the workflow engine fans out over the selected agents.
package agents
