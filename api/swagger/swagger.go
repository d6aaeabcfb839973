package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Paideia Gradebook API",
        "description": "Weighted course gradebooks: hierarchy, grade records, adjustments and final grades.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "consumes": [
        "application/json"
    ],
    "produces": [
        "application/json"
    ],
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {
            "name": "Gradebooks",
            "description": "Per-course gradebook roots"
        },
        {
            "name": "Hierarchy",
            "description": "Weighted categories and items"
        },
        {
            "name": "Grades",
            "description": "Grade records"
        },
        {
            "name": "Adjustments",
            "description": "Grade adjustment ledger"
        },
        {
            "name": "Reports",
            "description": "Final grades and roster exports"
        }
    ],
    "paths": {
        "/gradebooks": {
            "post": {
                "tags": [
                    "Gradebooks"
                ],
                "summary": "Create the gradebook of a course",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CreateGradebookRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "400": {
                        "description": "Invalid input",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/gradebooks/{id}": {
            "get": {
                "tags": [
                    "Gradebooks"
                ],
                "summary": "Get a gradebook with its hierarchy",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Gradebook ID"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            },
            "delete": {
                "tags": [
                    "Gradebooks"
                ],
                "summary": "Delete a gradebook with its grades",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Gradebook ID"
                    }
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/courses/{courseId}/gradebook": {
            "get": {
                "tags": [
                    "Gradebooks"
                ],
                "summary": "Get the gradebook of a course",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "courseId",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Course ID"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/gradebooks/{id}/hierarchy": {
            "post": {
                "tags": [
                    "Hierarchy"
                ],
                "summary": "Apply a batch of hierarchy operations",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Gradebook ID"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/HierarchyMutationRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "400": {
                        "description": "Invalid input",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "422": {
                        "description": "Weight invariant violated",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/gradebooks/{id}/categories": {
            "post": {
                "tags": [
                    "Hierarchy"
                ],
                "summary": "Create a category",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Gradebook ID"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CategoryRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "400": {
                        "description": "Invalid input",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "422": {
                        "description": "Weight invariant violated",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/gradebooks/{id}/categories/{categoryId}": {
            "put": {
                "tags": [
                    "Hierarchy"
                ],
                "summary": "Update or move a category",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Gradebook ID"
                    },
                    {
                        "name": "categoryId",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Category ID"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/CategoryRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "400": {
                        "description": "Invalid input",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "422": {
                        "description": "Weight invariant violated",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            },
            "delete": {
                "tags": [
                    "Hierarchy"
                ],
                "summary": "Delete an empty category",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Gradebook ID"
                    },
                    {
                        "name": "categoryId",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Category ID"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "422": {
                        "description": "Weight invariant violated",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/gradebooks/{id}/items": {
            "post": {
                "tags": [
                    "Hierarchy"
                ],
                "summary": "Create an item",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Gradebook ID"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ItemRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "400": {
                        "description": "Invalid input",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "422": {
                        "description": "Weight invariant violated",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/gradebooks/{id}/items/{itemId}": {
            "put": {
                "tags": [
                    "Hierarchy"
                ],
                "summary": "Update or move an item",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Gradebook ID"
                    },
                    {
                        "name": "itemId",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Item ID"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ItemRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "400": {
                        "description": "Invalid input",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "422": {
                        "description": "Weight invariant violated",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            },
            "delete": {
                "tags": [
                    "Hierarchy"
                ],
                "summary": "Delete an item and its grades",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Gradebook ID"
                    },
                    {
                        "name": "itemId",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Item ID"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "422": {
                        "description": "Weight invariant violated",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/gradebooks/{id}/order": {
            "put": {
                "tags": [
                    "Hierarchy"
                ],
                "summary": "Reorder the children of a scope",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Gradebook ID"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ReorderRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "400": {
                        "description": "Invalid input",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/grades": {
            "post": {
                "tags": [
                    "Grades"
                ],
                "summary": "Record a grade",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/RecordGradeRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "400": {
                        "description": "Invalid input",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "409": {
                        "description": "Conflict",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/grades/release": {
            "post": {
                "tags": [
                    "Grades"
                ],
                "summary": "Release a submission grade",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/ReleaseGradeRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "400": {
                        "description": "Invalid input",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/grades/{id}": {
            "get": {
                "tags": [
                    "Grades"
                ],
                "summary": "Get a grade record",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Grade record ID"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            },
            "put": {
                "tags": [
                    "Grades"
                ],
                "summary": "Update a grade record",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Grade record ID"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/UpdateGradeRequest"
                        }
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "400": {
                        "description": "Invalid input",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            },
            "delete": {
                "tags": [
                    "Grades"
                ],
                "summary": "Delete a grade record",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Grade record ID"
                    }
                ],
                "responses": {
                    "204": {
                        "description": "No Content"
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/grades/{id}/adjustments": {
            "post": {
                "tags": [
                    "Adjustments"
                ],
                "summary": "Add an adjustment",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Grade record ID"
                    },
                    {
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {
                            "$ref": "#/definitions/AddAdjustmentRequest"
                        }
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "400": {
                        "description": "Invalid input",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/grades/{id}/adjustments/{adjustmentId}/toggle": {
            "post": {
                "tags": [
                    "Adjustments"
                ],
                "summary": "Toggle an adjustment",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Grade record ID"
                    },
                    {
                        "name": "adjustmentId",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Adjustment ID"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/grades/{id}/adjustments/{adjustmentId}": {
            "delete": {
                "tags": [
                    "Adjustments"
                ],
                "summary": "Remove an adjustment",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Grade record ID"
                    },
                    {
                        "name": "adjustmentId",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Adjustment ID"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/gradebooks/{id}/enrollments/{enrollmentId}/grades": {
            "get": {
                "tags": [
                    "Grades"
                ],
                "summary": "List the grade records of an enrollment",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Gradebook ID"
                    },
                    {
                        "name": "enrollmentId",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Enrollment ID"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/gradebooks/{id}/enrollments/{enrollmentId}/final-grade": {
            "get": {
                "tags": [
                    "Reports"
                ],
                "summary": "Compute the final grade of an enrollment",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Gradebook ID"
                    },
                    {
                        "name": "enrollmentId",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Enrollment ID"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "422": {
                        "description": "Weight invariant violated",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/gradebooks/{id}/report": {
            "get": {
                "tags": [
                    "Reports"
                ],
                "summary": "Compute final grades for the course roster",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Gradebook ID"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "422": {
                        "description": "Weight invariant violated",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/gradebooks/{id}/exports": {
            "post": {
                "tags": [
                    "Reports"
                ],
                "summary": "Export the roster report",
                "security": [
                    {
                        "BearerAuth": []
                    }
                ],
                "parameters": [
                    {
                        "name": "id",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Gradebook ID"
                    },
                    {
                        "name": "format",
                        "in": "query",
                        "type": "string",
                        "enum": [
                            "csv",
                            "pdf"
                        ],
                        "required": true
                    }
                ],
                "responses": {
                    "201": {
                        "description": "Created",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "400": {
                        "description": "Invalid input",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Not found",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        },
        "/exports/{token}": {
            "get": {
                "tags": [
                    "Reports"
                ],
                "summary": "Download an exported report",
                "produces": [
                    "text/csv",
                    "application/pdf"
                ],
                "parameters": [
                    {
                        "name": "token",
                        "in": "path",
                        "type": "string",
                        "required": true,
                        "description": "Signed download token"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "File"
                    },
                    "403": {
                        "description": "Link invalid or expired",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    },
                    "404": {
                        "description": "Export no longer available",
                        "schema": {
                            "$ref": "#/definitions/Envelope"
                        }
                    }
                }
            }
        }
    },
    "definitions": {
        "Ref": {
            "type": "object",
            "properties": {
                "kind": {
                    "type": "string",
                    "enum": [
                        "category",
                        "item"
                    ]
                },
                "id": {
                    "type": "string"
                }
            },
            "required": [
                "kind",
                "id"
            ]
        },
        "SubmissionRef": {
            "type": "object",
            "properties": {
                "type": {
                    "type": "string"
                },
                "id": {
                    "type": "string"
                }
            }
        },
        "CreateGradebookRequest": {
            "type": "object",
            "properties": {
                "course_id": {
                    "type": "string"
                }
            },
            "required": [
                "course_id"
            ]
        },
        "HierarchyOp": {
            "type": "object",
            "properties": {
                "op": {
                    "type": "string",
                    "enum": [
                        "create_category",
                        "update_category",
                        "delete_category",
                        "create_item",
                        "update_item",
                        "delete_item",
                        "reorder"
                    ]
                },
                "id": {
                    "type": "string"
                },
                "parent_id": {
                    "type": "string"
                },
                "move": {
                    "type": "boolean"
                },
                "name": {
                    "type": "string"
                },
                "description": {
                    "type": "string"
                },
                "weight": {
                    "type": "number"
                },
                "clear_weight": {
                    "type": "boolean"
                },
                "extra_credit": {
                    "type": "boolean"
                },
                "max_grade": {
                    "type": "number"
                },
                "min_grade": {
                    "type": "number"
                },
                "sort_order": {
                    "type": "integer"
                },
                "order": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/Ref"
                    }
                }
            },
            "required": [
                "op"
            ]
        },
        "HierarchyMutationRequest": {
            "type": "object",
            "properties": {
                "ops": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/HierarchyOp"
                    }
                }
            },
            "required": [
                "ops"
            ]
        },
        "CategoryRequest": {
            "type": "object",
            "properties": {
                "parent_id": {
                    "type": "string"
                },
                "move": {
                    "type": "boolean"
                },
                "name": {
                    "type": "string"
                },
                "description": {
                    "type": "string"
                },
                "weight": {
                    "type": "number"
                },
                "clear_weight": {
                    "type": "boolean"
                },
                "extra_credit": {
                    "type": "boolean"
                },
                "sort_order": {
                    "type": "integer"
                }
            }
        },
        "ItemRequest": {
            "type": "object",
            "properties": {
                "category_id": {
                    "type": "string"
                },
                "move": {
                    "type": "boolean"
                },
                "name": {
                    "type": "string"
                },
                "description": {
                    "type": "string"
                },
                "weight": {
                    "type": "number"
                },
                "clear_weight": {
                    "type": "boolean"
                },
                "extra_credit": {
                    "type": "boolean"
                },
                "max_grade": {
                    "type": "number"
                },
                "min_grade": {
                    "type": "number"
                },
                "sort_order": {
                    "type": "integer"
                }
            }
        },
        "ReorderRequest": {
            "type": "object",
            "properties": {
                "parent_id": {
                    "type": "string"
                },
                "order": {
                    "type": "array",
                    "items": {
                        "$ref": "#/definitions/Ref"
                    }
                }
            },
            "required": [
                "order"
            ]
        },
        "RecordGradeRequest": {
            "type": "object",
            "properties": {
                "enrollment_id": {
                    "type": "string"
                },
                "item_id": {
                    "type": "string"
                },
                "base_grade": {
                    "type": "number"
                },
                "feedback": {
                    "type": "string"
                },
                "submission_ref": {
                    "$ref": "#/definitions/SubmissionRef"
                }
            },
            "required": [
                "enrollment_id",
                "item_id"
            ]
        },
        "UpdateGradeRequest": {
            "type": "object",
            "properties": {
                "base_grade": {
                    "type": "number"
                },
                "clear_base_grade": {
                    "type": "boolean"
                },
                "feedback": {
                    "type": "string"
                }
            }
        },
        "ReleaseGradeRequest": {
            "type": "object",
            "properties": {
                "enrollment_id": {
                    "type": "string"
                },
                "item_id": {
                    "type": "string"
                },
                "score": {
                    "type": "number"
                },
                "feedback": {
                    "type": "string"
                },
                "submission_ref": {
                    "$ref": "#/definitions/SubmissionRef"
                }
            },
            "required": [
                "enrollment_id",
                "item_id",
                "score",
                "submission_ref"
            ]
        },
        "AddAdjustmentRequest": {
            "type": "object",
            "properties": {
                "type": {
                    "type": "string",
                    "enum": [
                        "bonus",
                        "penalty",
                        "curve"
                    ]
                },
                "points": {
                    "type": "number"
                },
                "reason": {
                    "type": "string"
                }
            },
            "required": [
                "type",
                "reason"
            ]
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {
                    "type": "string"
                },
                "message": {
                    "type": "string"
                }
            }
        },
        "Envelope": {
            "type": "object",
            "properties": {
                "data": {
                    "type": "object"
                },
                "error": {
                    "$ref": "#/definitions/APIError"
                },
                "meta": {
                    "type": "object"
                }
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
