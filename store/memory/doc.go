// Package memory provides in-process implementations of every authcore
// collaborator store. It is meant for tests, single-node tools and local
// development; nothing survives a restart.
package memory
