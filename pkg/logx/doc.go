// Package logx is a thin zerolog wrapper. Loggers carry fixed fields, record
// the caller as file:line and, when derived from a Service, pick up level and
// sink changes made by Service.Apply on config reload.
package logx
