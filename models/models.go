package models

// This file serves as the central export point for all database models
// Import this package to access all model types

// Database schema overview:
// 1. conversations - One row per conversation; title is mutable (user- or AI-set)
// 2. turns - Append-only; one row per completed council run, holding the user
//    message together with the stage1/stage2/stage3 payloads as JSON
