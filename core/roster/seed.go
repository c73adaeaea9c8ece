package roster

// SeedEntries is the default roster loaded by `admin seedroster`.
var SeedEntries = []NewEntry{
	{StudentID: "RMS2025-001", FirstName: "Rhea", MiddleName: "", LastName: "Researcher", Program: "Software Engineering"},
	{StudentID: "RMS2025-002", FirstName: "Helena", MiddleName: "S.", LastName: "Bekele", Program: "Computer Science"},
	{StudentID: "RMS2025-003", FirstName: "Jonas", MiddleName: "A.", LastName: "Worku", Program: "Information Systems"},
	{StudentID: "RMS2025-004", FirstName: "Marta", MiddleName: "", LastName: "Tesfaye", Program: "Software Engineering"},
	{StudentID: "RMS2025-005", FirstName: "Samuel", MiddleName: "K.", LastName: "Wolde", Program: "Computer Science"},
	{StudentID: "RMS2025-006", FirstName: "Lulit", MiddleName: "G.", LastName: "Mengistu", Program: "Information Systems"},
	{StudentID: "RMS2025-007", FirstName: "Eyob", MiddleName: "", LastName: "Hailu", Program: "Software Engineering"},
	{StudentID: "RMS2025-008", FirstName: "Selam", MiddleName: "T.", LastName: "Kidane", Program: "Computer Science"},
	{StudentID: "RMS2025-009", FirstName: "Nahom", MiddleName: "", LastName: "Abera", Program: "Information Systems"},
	{StudentID: "RMS2025-010", FirstName: "Hermela", MiddleName: "M.", LastName: "Fekadu", Program: "Software Engineering"},
}
