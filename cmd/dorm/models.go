package main

import "github.com/dormdb/dorm"

// models is the record-type registry the CLI binds before reconciling or
// generating. Registration is explicit: projects vendoring this command add
// their declarations here, e.g.
//
//	var models = map[string]dorm.Model{
//		"User": {Columns: map[string]dorm.Column{
//			"id":    dorm.PK,
//			"email": dorm.UniqueEmail,
//		}},
//	}
var models = map[string]dorm.Model{}
