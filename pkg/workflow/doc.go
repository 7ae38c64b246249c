// Package workflow is a name -> ordered-stage-list lookup, not an
// authoring surface: definitions are loaded from YAML or registered
// programmatically, never built interactively.
package workflow
