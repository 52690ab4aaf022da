// Package analysis provides the business boundary for the on-call
// assistant's alert analysis. It defines the Manager (session lifecycle,
// single-active-run guarantee), Pipeline (staged orchestration), Analyzer
// (LLM root-cause analysis), Store interface (persistence), and domain
// models.
package analysis
